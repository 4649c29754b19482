package onebot

import "encoding/json"

// SyntheticMessageEvent builds a minimal message-event frame, used by the
// admin resolve() call (§6) to drive the router without a real frontend
// session.
func SyntheticMessageEvent(text string, userID, groupID int64, hasGroup bool) *Frame {
	raw := map[string]json.RawMessage{
		"post_type":    encode("message"),
		"message_type": encode(messageTypeFor(hasGroup)),
		"raw_message":  encode(text),
		"message":      encode(text),
		"user_id":      encode(userID),
	}
	if hasGroup {
		raw["group_id"] = encode(groupID)
	}
	return &Frame{raw: raw}
}

// SyntheticReply builds the frame the dispatcher sends back to a frontend
// session for a Reply decision: a message event carrying the synthesized
// text, distinguishable from an upstream-originated message by message_type.
func SyntheticReply(text, echo string) *Frame {
	raw := map[string]json.RawMessage{
		"post_type":    encode("message"),
		"message_type": encode("dispatcher"),
		"raw_message":  encode(text),
		"message":      encode(text),
	}
	if echo != "" {
		raw["echo"] = encode(echo)
	}
	return &Frame{raw: raw}
}

func messageTypeFor(hasGroup bool) string {
	if hasGroup {
		return "group"
	}
	return "private"
}

func encode(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return json.RawMessage(data)
}
