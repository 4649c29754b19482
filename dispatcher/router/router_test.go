package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/onebot"
	"github.com/ceyewan/obgate/dispatcher/repository"
	"github.com/ceyewan/obgate/dispatcher/style"
)

type fakeConns struct {
	up map[string]bool
}

func (f fakeConns) Available(connID string) bool { return f.up[connID] }

func messageFrame(text string) *onebot.Frame {
	return onebot.SyntheticMessageEvent(text, 1, 0, false)
}

func newStyleManager() *style.Manager {
	return style.NewManager(repository.NewInMemory(), nil, nil)
}

func TestResolve_S1_ForcedPrefixStrip(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{
				ID: "bot1", Name: "bot1", TargetWS: "c1", Enabled: true,
				Commands: []config.Command{{Name: "/info"}},
			},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}
	user := repository.User{QQID: 1}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("bot1 /info hello"), user)

	fwd, ok := decision.(Forward)
	require.True(t, ok)
	assert.Equal(t, "c1", fwd.ConnectionID)
	ev := fwd.Frame.AsMessageEvent()
	assert.Equal(t, "/info hello", ev.Text)
}

func TestResolve_S2_ForcedSetDisabled(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{ID: "bot1", Name: "bot1", TargetWS: "c1", Enabled: false, Commands: []config.Command{{Name: "/info"}}},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("bot1 /info"), repository.User{})

	reply, ok := decision.(Reply)
	require.True(t, ok)
	assert.Equal(t, "指令集已禁用", reply.Text)
}

func TestResolve_S3_PrivilegeDeny(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{
				ID: "pub", IsPublic: true, TargetWS: "c1", Enabled: true,
				Commands: []config.Command{{Name: "/admin", IsPrivileged: true}},
			},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}
	user := repository.User{QQID: 1, IsPrivileged: false}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/admin"), user)

	reply, ok := decision.(Reply)
	require.True(t, ok)
	assert.Equal(t, "该指令需要特权", reply.Text)
}

func TestResolve_S4_TimeWindowWrap(t *testing.T) {
	cmd := config.Command{Name: "/night", TimeRestriction: &config.TimeRestriction{Start: "22:00", End: "06:00"}}

	t.Run("23:30 落在跨午夜窗口内", func(t *testing.T) {
		ref := time.Date(2026, 1, 1, 23, 30, 0, 0, time.Local)
		assert.True(t, inWindow(*cmd.TimeRestriction, ref))
	})

	t.Run("10:00 不在窗口内", func(t *testing.T) {
		ref := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)
		assert.False(t, inWindow(*cmd.TimeRestriction, ref))
	})
}

func TestResolve_S5_MutexStyleFollowsSelection(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		Categories: []config.Category{
			{ID: "pjsk", Enabled: true, IsMutex: true, DefaultCommandSet: "A"},
		},
		CommandSets: []config.CommandSet{
			{ID: "A", Category: "pjsk", TargetWS: "ca", Enabled: true, Commands: []config.Command{{Name: "/sing"}}},
			{ID: "B", Category: "pjsk", TargetWS: "cb", Enabled: true, Commands: []config.Command{{Name: "/sing"}}},
		},
	})
	conns := fakeConns{up: map[string]bool{"ca": true, "cb": true}}

	t.Run("无选择时走默认集", func(t *testing.T) {
		decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/sing"), repository.User{QQID: 1})
		fwd, ok := decision.(Forward)
		require.True(t, ok)
		assert.Equal(t, "ca", fwd.ConnectionID)
	})

	t.Run("选择后走用户指定集", func(t *testing.T) {
		user := repository.User{QQID: 1, SelectedStyles: map[string]string{"pjsk": "B"}}
		decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/sing"), user)
		fwd, ok := decision.(Forward)
		require.True(t, ok)
		assert.Equal(t, "cb", fwd.ConnectionID)
	})
}

func TestResolve_S6_FinalForward(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		Final: config.FinalRule{Action: config.FinalForward, TargetWS: "cF"},
	})
	conns := fakeConns{up: map[string]bool{"cF": true}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("gibberish"), repository.User{})

	fwd, ok := decision.(Forward)
	require.True(t, ok)
	assert.Equal(t, "cF", fwd.ConnectionID)
}

func TestResolve_AccessListDenyIsSticky(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		AccessLists: []config.AccessList{
			{ID: "blocked", Type: config.AccessUser, Mode: config.ModeBlacklist, Items: []int64{1}},
		},
		CommandSets: []config.CommandSet{
			{
				ID: "pub", IsPublic: true, TargetWS: "c1", Enabled: true, UserAccessList: "blocked",
				Commands: []config.Command{{Name: "/info"}},
			},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/info"), repository.User{QQID: 1})

	reply, ok := decision.(Reply)
	require.True(t, ok)
	assert.Equal(t, "无权使用", reply.Text)
}

func TestResolve_TargetConnectionDownSynthesizesReply(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{ID: "pub", IsPublic: true, TargetWS: "c1", Enabled: true, Commands: []config.Command{{Name: "/info"}}},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": false}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/info"), repository.User{QQID: 1})

	reply, ok := decision.(Reply)
	require.True(t, ok)
	assert.Equal(t, "目标连接不可用", reply.Text)
}

func TestResolve_LongestCommandNameWinsOverShorterPrefix(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{
				ID: "pub", IsPublic: true, TargetWS: "c1", Enabled: true,
				Commands: []config.Command{{Name: "/l"}, {Name: "/listen"}},
			},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/listen"), repository.User{QQID: 1})

	fwd, ok := decision.(Forward)
	require.True(t, ok)
	ev := fwd.Frame.AsMessageEvent()
	assert.Equal(t, "/listen", ev.Text)
}

func TestResolve_MetaCommandsCannotBeOverriddenByUserSets(t *testing.T) {
	idx := config.BuildIndex(&config.Config{
		CommandSets: []config.CommandSet{
			{ID: "pub", IsPublic: true, TargetWS: "c1", Enabled: true, Commands: []config.Command{{Name: "/help"}}},
		},
	})
	conns := fakeConns{up: map[string]bool{"c1": true}}

	decision := Resolve(context.Background(), idx, newStyleManager(), conns, messageFrame("/help"), repository.User{QQID: 1})

	_, ok := decision.(Reply)
	require.True(t, ok, "Stage A must intercept /help before any command set sees it")
}
