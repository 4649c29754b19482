package onebot

import "encoding/json"

// LifecycleConnect builds the meta_event OneBot implementations send on
// attach. The upstream client pool emits one synthetically on every
// successful dial so connectivity bookkeeping sees a uniform frame whether
// or not the real backend sends its own.
func LifecycleConnect(selfID int64) *Frame {
	raw := map[string]any{
		"post_type":       "meta_event",
		"meta_event_type": "lifecycle",
		"sub_type":        "connect",
		"self_id":         selfID,
	}
	encoded, _ := json.Marshal(raw)
	f, _, _ := ParseFrame(encoded)
	return f
}
