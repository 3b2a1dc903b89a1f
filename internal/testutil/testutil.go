// Package testutil provides small builders and collectors shared by tests:
// message constructors, tap drainers and ready-made leaf agents. Test-only;
// nothing here is part of the public API.
package testutil

import (
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/schema"
)

// Forward is a pass-through agent: one mandatory input "in", one output
// "out", Continue after every run.
func Forward(name string, s core.Schema) core.Agent {
	return core.NewFuncAgent(name,
		[]core.PortSpec{core.InputPort("in", s), core.OutputPort("out", s)},
		func(rc core.RunContext) core.Signal {
			msg, err := rc.Receive("in")
			if err != nil {
				return core.Fail(err)
			}
			if err := rc.Send("out", msg); err != nil {
				return core.Fail(err)
			}
			return core.Continue()
		})
}

// Sink consumes "in" and appends every payload to the returned slice
// pointer. The slice is only safe to read after the network is terminal.
func Sink(name string, s core.Schema) (core.Agent, *[]core.Message) {
	var got []core.Message
	a := core.NewFuncAgent(name,
		[]core.PortSpec{core.InputPort("in", s)},
		func(rc core.RunContext) core.Signal {
			msg, err := rc.Receive("in")
			if err != nil {
				return core.Fail(err)
			}
			got = append(got, msg)
			return core.Continue()
		})
	return a, &got
}

// Emitter sends the given messages on "out" in order during its single
// run, then ends. Sources without mandatory inputs are scheduled exactly
// once, so End keeps them out of the idle set.
func Emitter(name string, s core.Schema, msgs ...core.Message) core.Agent {
	return core.NewFuncAgent(name,
		[]core.PortSpec{core.OutputPort("out", s)},
		func(rc core.RunContext) core.Signal {
			for _, m := range msgs {
				if err := rc.Send("out", m); err != nil {
					return core.Fail(err)
				}
			}
			return core.End()
		})
}

// BoolMessages encodes a sequence of bool payloads.
func BoolMessages(vs ...bool) []core.Message {
	out := make([]core.Message, 0, len(vs))
	for _, v := range vs {
		out = append(out, schema.EncodeBool(v))
	}
	return out
}

// Drain collects everything from a tap until it closes, failing the test
// after the timeout.
func Drain(t *testing.T, ch <-chan core.Message, timeout time.Duration) []core.Message {
	t.Helper()
	var out []core.Message
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("tap not closed after %v (collected %d messages)", timeout, len(out))
			return out
		}
	}
}

// Bools decodes a slice of bool messages, failing the test on corrupt
// payloads.
func Bools(t *testing.T, msgs []core.Message) []bool {
	t.Helper()
	out := make([]bool, 0, len(msgs))
	for _, m := range msgs {
		v, err := schema.DecodeBool(m)
		if err != nil {
			t.Fatalf("decode bool: %v", err)
		}
		out = append(out, v)
	}
	return out
}
