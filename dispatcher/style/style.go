// Package style implements the built-in /help, /status, /list and /style
// meta-commands (C7). The manager holds no state of its own: every write
// goes through the Repository, and every read of connection/message
// statistics goes through the small interfaces below so this package never
// depends on the upstream pool or dispatcher directly.
package style

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/repository"
)

// ConnStats reports live upstream connectivity for /status.
type ConnStats interface {
	Stats() (total, connected int)
}

// MessageCounter reports how many messages have been routed today, for /status.
type MessageCounter interface {
	Today() int64
}

// Manager handles the reserved meta-commands. It is safe for concurrent use.
type Manager struct {
	repo    repository.Repository
	conns   ConnStats
	counter MessageCounter
}

// NewManager builds a style manager. conns/counter may be nil in tests that
// don't exercise /status.
func NewManager(repo repository.Repository, conns ConnStats, counter MessageCounter) *Manager {
	return &Manager{repo: repo, conns: conns, counter: counter}
}

// Handle dispatches one of the reserved prefixes. matched is false if text
// does not begin with a reserved prefix, in which case the router continues
// past Stage A.
func (m *Manager) Handle(ctx context.Context, text string, senderID int64, idx *config.Index) (reply string, matched bool) {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "/help" || strings.HasPrefix(trimmed, "/help "):
		return m.help(ctx, senderID, idx), true
	case trimmed == "/status" || strings.HasPrefix(trimmed, "/status "):
		return m.status(), true
	case trimmed == "/list" || strings.HasPrefix(trimmed, "/list "):
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "/list"))
		return m.list(ctx, senderID, idx, arg), true
	case trimmed == "/style" || strings.HasPrefix(trimmed, "/style "):
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "/style"))
		return m.style(ctx, senderID, idx, arg), true
	default:
		return "", false
	}
}

func (m *Manager) help(ctx context.Context, senderID int64, idx *config.Index) string {
	var b strings.Builder
	b.WriteString("可用的元指令：/help /status /list /style\n")
	b.WriteString("可切换的分类：\n")
	for _, cat := range sortedCategories(idx) {
		if !cat.Enabled || !cat.AllowUserSwitch {
			continue
		}
		fmt.Fprintf(&b, "  %s - %s\n", cat.ID, cat.DisplayName)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) status() string {
	if m.conns == nil {
		return "状态信息暂不可用"
	}
	total, connected := m.conns.Stats()
	var today int64
	if m.counter != nil {
		today = m.counter.Today()
	}
	return fmt.Sprintf("连接：%d/%d 在线\n今日消息数：%d", connected, total, today)
}

func (m *Manager) list(ctx context.Context, senderID int64, idx *config.Index, arg string) string {
	if arg == "" {
		return m.listCategories(idx)
	}
	return m.listCategorySets(ctx, senderID, idx, arg)
}

func (m *Manager) listCategories(idx *config.Index) string {
	var b strings.Builder
	b.WriteString("已启用的分类：\n")
	for _, cat := range sortedCategories(idx) {
		if !cat.Enabled {
			continue
		}
		fmt.Fprintf(&b, "  %s - %s\n", cat.ID, cat.DisplayName)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) listCategorySets(ctx context.Context, senderID int64, idx *config.Index, catID string) string {
	cat, ok := idx.Category(catID)
	if !ok {
		return fmt.Sprintf("未知分类：%s", catID)
	}
	user, _ := m.repo.GetUser(ctx, senderID)
	current := user.SelectedStyles[catID]

	var b strings.Builder
	fmt.Fprintf(&b, "分类 %s 下的指令集：\n", cat.DisplayName)
	for _, cs := range idx.CategorySets(catID) {
		if !cs.Enabled {
			continue
		}
		marker := "  "
		if cs.ID == current {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s - %s\n", marker, cs.ID, cs.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) style(ctx context.Context, senderID int64, idx *config.Index, arg string) string {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return "用法：/style list | /style current | /style select <分类> <指令集>"
	}
	switch fields[0] {
	case "list":
		return m.styleList(idx)
	case "current":
		return m.styleCurrent(ctx, senderID, idx)
	case "select":
		if len(fields) != 3 {
			return "用法：/style select <分类> <指令集>"
		}
		return m.styleSelect(ctx, senderID, idx, fields[1], fields[2])
	default:
		return "未知的 /style 子命令"
	}
}

func (m *Manager) styleList(idx *config.Index) string {
	var b strings.Builder
	b.WriteString("可切换的分类：\n")
	for _, cat := range sortedCategories(idx) {
		if !cat.Enabled || !cat.AllowUserSwitch {
			continue
		}
		fmt.Fprintf(&b, "  %s - %s\n", cat.ID, cat.DisplayName)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) styleCurrent(ctx context.Context, senderID int64, idx *config.Index) string {
	user, err := m.repo.GetUser(ctx, senderID)
	if err != nil {
		return "当前无法读取你的风格设置"
	}
	if len(user.SelectedStyles) == 0 {
		return "你还没有选择任何风格"
	}
	ids := make([]string, 0, len(user.SelectedStyles))
	for cat := range user.SelectedStyles {
		ids = append(ids, cat)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("你当前的风格：\n")
	for _, cat := range ids {
		fmt.Fprintf(&b, "  %s -> %s\n", cat, user.SelectedStyles[cat])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) styleSelect(ctx context.Context, senderID int64, idx *config.Index, catID, csID string) string {
	cat, ok := idx.Category(catID)
	if !ok {
		return fmt.Sprintf("未知分类：%s", catID)
	}
	if !cat.AllowUserSwitch {
		return "此分类不允许用户切换风格，请联系管理员"
	}
	cs, ok := idx.CommandSet(csID)
	if !ok || cs.Category != catID {
		return fmt.Sprintf("指令集 %s 不属于分类 %s", csID, catID)
	}
	if !cs.Enabled {
		return fmt.Sprintf("指令集 %s 当前已禁用", csID)
	}

	if _, err := m.repo.SetSelectedStyle(ctx, senderID, catID, csID); err != nil {
		return "风格切换失败，请稍后重试"
	}
	return fmt.Sprintf("已将分类 %s 的风格切换为 %s", catID, csID)
}

func sortedCategories(idx *config.Index) []config.Category {
	cats := idx.Categories()
	out := make([]config.Category, len(cats))
	copy(out, cats)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
