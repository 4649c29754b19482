package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/observability"
	"github.com/ceyewan/obgate/dispatcher/onebot"
	"github.com/ceyewan/obgate/dispatcher/repository"
	"github.com/ceyewan/obgate/dispatcher/style"
)

// ConnectionAvailability reports whether an upstream connection is currently
// usable for a forward. Satisfied by the upstream pool; declared here to
// avoid router importing upstream.
type ConnectionAvailability interface {
	Available(connID string) bool
}

// Resolve runs the full Stage A-F pipeline for one inbound message event.
// It performs no I/O beyond what the caller has already done (the user
// record is passed in, already read once by the dispatcher).
func Resolve(ctx context.Context, idx *config.Index, styles *style.Manager, conns ConnectionAvailability, frame *onebot.Frame, user repository.User) Decision {
	ctx, end := observability.StartSpan(ctx, "router.Resolve")
	defer end()

	decision := resolve(ctx, idx, styles, conns, frame, user)

	attrs := []attribute.KeyValue{observability.DecisionKind(Kind(decision))}
	if fwd, ok := decision.(Forward); ok {
		attrs = append(attrs, observability.ConnectionID(fwd.ConnectionID))
	}
	trace.SpanFromContext(ctx).SetAttributes(attrs...)

	return decision
}

func resolve(ctx context.Context, idx *config.Index, styles *style.Manager, conns ConnectionAvailability, frame *onebot.Frame, user repository.User) Decision {
	event := frame.AsMessageEvent()
	text := event.Text

	if reply, matched := styles.Handle(ctx, text, event.UserID, idx); matched {
		return Reply{Text: reply}
	}

	if token, rest, ok := splitToken(text); ok {
		if cs, ok := idx.ForcedSet(token); ok {
			if !cs.Enabled {
				return Reply{Text: "指令集已禁用"}
			}
			if decision, matched := matchCommandSet(idx, cs, rest, event, user, conns, frame); matched {
				return decision
			}
			return finalDecision(idx.Config().Final, frame)
		}
	}

	candidates := assembleCandidates(idx, user)
	pairs := applyPrefixes(candidates, text)

	for _, p := range pairs {
		if decision, matched := matchCommandSet(idx, p.cs, p.text, event, user, conns, frame); matched {
			return decision
		}
	}

	return finalDecision(idx.Config().Final, frame)
}

// splitToken extracts the first whitespace-separated token from text, per
// Stage B's "<token> <rest>" pattern. ok is false if text has no leading
// token (empty string).
func splitToken(text string) (token, rest string, ok bool) {
	if text == "" {
		return "", "", false
	}
	if i := strings.IndexByte(text, ' '); i >= 0 {
		return text[:i], text[i+1:], true
	}
	return text, "", true
}

// assembleCandidates builds Stage C's candidate list: all enabled public
// sets, plus per enabled category the user's selection, or the category
// default, or (if the category is not mutex) every enabled set in it.
func assembleCandidates(idx *config.Index, user repository.User) []*config.CommandSet {
	var candidates []*config.CommandSet
	candidates = append(candidates, idx.PublicSets()...)

	for _, cat := range idx.Categories() {
		if !cat.Enabled {
			continue
		}
		if selected, ok := user.SelectedStyles[cat.ID]; ok && selected != "" {
			if cs, ok := idx.CommandSet(selected); ok && cs.Category == cat.ID {
				candidates = append(candidates, cs)
				continue
			}
		}
		if cat.DefaultCommandSet != "" {
			if cs, ok := idx.CommandSet(cat.DefaultCommandSet); ok {
				candidates = append(candidates, cs)
				continue
			}
		}
		if !cat.IsMutex {
			candidates = append(candidates, idx.CategorySets(cat.ID)...)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return config.Order(candidates[i]) < config.Order(candidates[j])
	})
	return candidates
}

// setText pairs a candidate command set with the text it should be matched
// against, after Stage D's prefix handling.
type setText struct {
	cs   *config.CommandSet
	text string
}

// applyPrefixes implements Stage D: if any candidate has a non-empty prefix
// that text matches, only those candidates are kept (each with the stripped
// remainder if strip_prefix is set); otherwise every candidate remains with
// the original text.
func applyPrefixes(candidates []*config.CommandSet, text string) []setText {
	var promoted []setText
	for _, cs := range candidates {
		if cs.Prefix == "" || !matchesToken(text, cs.Prefix) {
			continue
		}
		t := text
		if cs.StripPrefix {
			t = remainderAfter(text, cs.Prefix)
		}
		promoted = append(promoted, setText{cs, t})
	}
	if len(promoted) > 0 {
		return promoted
	}
	out := make([]setText, 0, len(candidates))
	for _, cs := range candidates {
		out = append(out, setText{cs, text})
	}
	return out
}

// matchesToken reports whether text equals tok or begins with tok followed
// by a space (the separator rule shared by Stage D's prefix check and Stage
// E's command-name check).
func matchesToken(text, tok string) bool {
	if text == tok {
		return true
	}
	return strings.HasPrefix(text, tok+" ")
}

// remainderAfter strips tok and its following separator (if any) from text.
func remainderAfter(text, tok string) string {
	if text == tok {
		return ""
	}
	return text[len(tok)+1:]
}

// matchCommandSet implements the inner half of Stage E for one candidate:
// find the command match, testing every name and alias in cs longest first,
// and run its guard chain.
// matched is false only when no command in cs names text (fall through to
// the next candidate) or when the enablement guard misses.
func matchCommandSet(idx *config.Index, cs *config.CommandSet, text string, event onebot.MessageEvent, user repository.User, conns ConnectionAvailability, frame *onebot.Frame) (Decision, bool) {
	type namedCommand struct {
		cmd  config.Command
		name string
	}
	var named []namedCommand
	for _, cmd := range cs.Commands {
		for _, name := range config.NamesOf(cmd) {
			named = append(named, namedCommand{cmd, name})
		}
	}
	sort.SliceStable(named, func(i, j int) bool { return len(named[i].name) > len(named[j].name) })
	for _, nc := range named {
		if !matchesToken(text, nc.name) {
			continue
		}
		decision, missEnablement := evalGuards(idx, cs, nc.cmd, text, event, user, conns, frame)
		if missEnablement {
			return nil, false
		}
		return decision, true
	}
	return nil, false
}

// evalGuards runs the enablement, access-control, privilege and time-window
// guards in order for a matched (command_set, command) pair. The second
// return value is true only on an enablement miss, signaling the caller to
// fall through to the next candidate.
func evalGuards(idx *config.Index, cs *config.CommandSet, cmd config.Command, text string, event onebot.MessageEvent, user repository.User, conns ConnectionAvailability, frame *onebot.Frame) (Decision, bool) {
	if !cs.Enabled {
		return nil, true
	}

	if accessDenied(idx, cs, event.UserID, event.GroupID, event.HasGroup) {
		return Reply{Text: "无权使用"}, false
	}

	if cmd.IsPrivileged && !user.IsPrivileged {
		return Reply{Text: "该指令需要特权"}, false
	}

	if cmd.TimeRestriction != nil && !inWindow(*cmd.TimeRestriction, time.Now()) {
		return Reply{Text: "不在可用时间"}, false
	}

	if cs.TargetWS == "" || !conns.Available(cs.TargetWS) {
		return Reply{Text: "目标连接不可用"}, false
	}

	out := frame.Clone()
	out.RewriteText(text)
	return Forward{ConnectionID: cs.TargetWS, Frame: out}, false
}

// accessDenied implements Stage E guard 2: user_access_list and
// group_access_list, each checked independently; either denying is enough.
func accessDenied(idx *config.Index, cs *config.CommandSet, userID, groupID int64, hasGroup bool) bool {
	if cs.UserAccessList != "" {
		al, ok := idx.AccessList(cs.UserAccessList)
		if !ok || !al.Allows(userID) {
			return true
		}
	}
	if cs.GroupAccessList != "" && hasGroup {
		al, ok := idx.AccessList(cs.GroupAccessList)
		if !ok || !al.Allows(groupID) {
			return true
		}
	}
	return false
}

// inWindow reports whether now's local wall-clock time falls in
// [start, end), wrapping past midnight when end < start.
func inWindow(tr config.TimeRestriction, now time.Time) bool {
	start, okS := parseHHMM(tr.Start)
	end, okE := parseHHMM(tr.End)
	if !okS || !okE {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if end < start {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func finalDecision(rule config.FinalRule, frame *onebot.Frame) Decision {
	switch rule.Action {
	case config.FinalForward:
		return Forward{ConnectionID: rule.TargetWS, Frame: frame}
	case config.FinalAllow:
		return Drop{}
	default: // reject
		if rule.SendMessage {
			return Reply{Text: rule.Message}
		}
		return Drop{}
	}
}
