// Package router implements the command-resolution pipeline (C6): a pure
// function from (text, sender, group, config snapshot, user record) to a
// RoutingDecision. The router performs no I/O beyond the single repository
// read of the user record at entry.
package router

import "github.com/ceyewan/obgate/dispatcher/onebot"

// Decision is the closed sum RoutingDecision ∈ {Forward, Reply, Drop}.
// Expressed as an interface with an unexported marker method rather than a
// subtype hierarchy, per the design notes on tagged variants.
type Decision interface {
	decision()
}

// Forward routes the (possibly text-mutated) event to an upstream connection.
type Forward struct {
	ConnectionID string
	Frame        *onebot.Frame
}

// Reply sends a synthesized text message back to the originating frontend.
type Reply struct {
	Text string
}

// Drop silently ignores the event.
type Drop struct{}

func (Forward) decision() {}
func (Reply) decision()   {}
func (Drop) decision()    {}

// Kind names a decision's variant for span/log annotation.
func Kind(d Decision) string {
	switch d.(type) {
	case Forward:
		return "forward"
	case Reply:
		return "reply"
	default:
		return "drop"
	}
}
