package onebot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleConnect_ClassifiesAsMetaEvent(t *testing.T) {
	f := LifecycleConnect(123)
	assert.Equal(t, KindMetaEvent, f.Kind())
}

func TestSyntheticMessageEvent_PrivateVsGroup(t *testing.T) {
	priv := SyntheticMessageEvent("hi", 1, 0, false)
	ev := priv.AsMessageEvent()
	assert.Equal(t, "private", ev.MessageType)
	assert.False(t, ev.HasGroup)

	grp := SyntheticMessageEvent("hi", 1, 99, true)
	ev2 := grp.AsMessageEvent()
	assert.Equal(t, "group", ev2.MessageType)
	assert.True(t, ev2.HasGroup)
	assert.Equal(t, int64(99), ev2.GroupID)
}

func TestSyntheticReply_CarriesTextAndEcho(t *testing.T) {
	f := SyntheticReply("无权使用", "e1")
	ev := f.AsMessageEvent()
	assert.Equal(t, "无权使用", ev.Text)

	echo, ok := f.Echo()
	require.True(t, ok)
	assert.Equal(t, "e1", echo)
}

func TestSyntheticReply_OmitsEchoWhenEmpty(t *testing.T) {
	f := SyntheticReply("drop", "")
	_, ok := f.Echo()
	assert.False(t, ok)
}
