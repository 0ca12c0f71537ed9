package interview

import "strings"

// callAccumulator assembles streamed function-call arguments. Fragments
// arrive keyed by an opaque call id and are only valid once the terminal
// event for that id lands; the entry is consumed and cleared at that point.
type callAccumulator struct {
	pending map[string]*pendingCall
}

type pendingCall struct {
	name string
	args strings.Builder
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{pending: make(map[string]*pendingCall)}
}

// add appends one argument fragment for callID.
func (c *callAccumulator) add(callID, name, delta string) {
	p, ok := c.pending[callID]
	if !ok {
		p = &pendingCall{name: name}
		c.pending[callID] = p
	}
	if p.name == "" {
		p.name = name
	}
	p.args.WriteString(delta)
}

// finish consumes the accumulated call. The terminal event's own fields win
// when present; the accumulated buffer covers peers that only stream deltas.
func (c *callAccumulator) finish(callID, name, arguments string) (string, string) {
	p := c.pending[callID]
	delete(c.pending, callID)

	if name == "" && p != nil {
		name = p.name
	}
	if arguments == "" && p != nil {
		arguments = p.args.String()
	}
	return name, arguments
}

// reset drops all partial calls. Used when the channel is replaced: fragment
// streams do not survive a reconnect.
func (c *callAccumulator) reset() {
	clear(c.pending)
}
