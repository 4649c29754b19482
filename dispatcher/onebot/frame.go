// Package onebot implements just enough of the OneBot v11 wire protocol for
// the dispatcher to classify frames and read the handful of fields it needs.
// Per the Non-goals, payloads are never parsed semantically beyond event
// type, message text, user id, group id and the echo field; unknown fields
// are preserved verbatim so forwarding never drops data it didn't understand.
package onebot

import (
	"encoding/json"
	"strconv"
)

// Kind classifies an inbound or outbound frame.
type Kind int

const (
	KindOther Kind = iota
	KindMessageEvent
	KindAPICall
	KindAPIResponse
	KindMetaEvent
)

// Frame is a raw OneBot JSON object kept as a field bag so that unknown keys
// round-trip unchanged on forwarding.
type Frame struct {
	raw map[string]json.RawMessage
}

// ParseFrame decodes a raw wire message into a field bag and classifies it.
func ParseFrame(data []byte) (*Frame, Kind, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, KindOther, err
	}
	f := &Frame{raw: raw}
	return f, f.classify(), nil
}

// Kind reclassifies the frame on demand, for callers (like the upstream
// pool) that received it from something other than ParseFrame.
func (f *Frame) Kind() Kind { return f.classify() }

func (f *Frame) classify() Kind {
	postType := f.stringField("post_type")
	switch postType {
	case "message":
		return KindMessageEvent
	case "meta_event":
		return KindMetaEvent
	}
	if f.has("action") {
		return KindAPICall
	}
	if f.has("retcode") || f.has("status") {
		return KindAPIResponse
	}
	return KindOther
}

func (f *Frame) has(key string) bool {
	_, ok := f.raw[key]
	return ok
}

func (f *Frame) stringField(key string) string {
	raw, ok := f.raw[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (f *Frame) int64Field(key string) (int64, bool) {
	raw, ok := f.raw[key]
	if !ok {
		return 0, false
	}
	// OneBot implementations vary between numeric and string encodings
	// for ids; accept either rather than failing the whole frame.
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// Echo returns the frame's echo field, if present.
func (f *Frame) Echo() (string, bool) {
	raw, ok := f.raw["echo"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

// SetEcho sets or overwrites the frame's echo field.
func (f *Frame) SetEcho(echo string) {
	f.setString("echo", echo)
}

// MessageEvent extracts the fields the router needs from a message event.
type MessageEvent struct {
	UserID      int64
	GroupID     int64
	HasGroup    bool
	MessageType string
	Text        string
}

// AsMessageEvent reads the fields Stage A-F of the router consumes. Text
// prefers raw_message, falling back to message when message_post_format is
// "string" and raw_message is absent, per §6.
func (f *Frame) AsMessageEvent() MessageEvent {
	ev := MessageEvent{
		MessageType: f.stringField("message_type"),
	}
	if uid, ok := f.int64Field("user_id"); ok {
		ev.UserID = uid
	}
	if gid, ok := f.int64Field("group_id"); ok {
		ev.GroupID = gid
		ev.HasGroup = true
	}
	if raw, ok := f.raw["raw_message"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			ev.Text = s
			return ev
		}
	}
	ev.Text = f.stringField("message")
	return ev
}

// RewriteText updates both raw_message and message (whichever are present)
// to newText, per §6's text-mutation rule for prefix stripping.
func (f *Frame) RewriteText(newText string) {
	if f.has("raw_message") {
		f.setString("raw_message", newText)
	}
	if f.has("message") {
		f.setString("message", newText)
	}
}

func (f *Frame) setString(key, value string) {
	data, _ := json.Marshal(value)
	f.raw[key] = json.RawMessage(data)
}

// Bytes re-encodes the frame, preserving every field it was parsed with.
func (f *Frame) Bytes() ([]byte, error) {
	return json.Marshal(f.raw)
}

// Clone returns a deep-enough copy of f safe to mutate independently — raw
// JSON values themselves are immutable byte slices, so copying the map is
// sufficient, mirroring the copy-and-overwrite pattern used when forwarding
// an event with its text field replaced.
func (f *Frame) Clone() *Frame {
	cp := make(map[string]json.RawMessage, len(f.raw))
	for k, v := range f.raw {
		cp[k] = v
	}
	return &Frame{raw: cp}
}
