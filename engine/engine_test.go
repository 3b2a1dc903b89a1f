package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/internal/testutil"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/schema"
	"github.com/flowmesh/flowmesh/trace"
)

const awaitTimeout = 5 * time.Second

// run builds, starts and drives a network to its terminal condition,
// returning the outcome.
func run(t *testing.T, net *network.Network, inject func(*Engine), opts ...Option) Outcome {
	t.Helper()
	eng := New(net, opts...)
	return runEngine(t, eng, inject)
}

func runEngine(t *testing.T, eng *Engine, inject func(*Engine)) Outcome {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	if inject != nil {
		inject(eng)
	}
	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer awaitCancel()
	outcome, err := eng.AwaitTerminal(awaitCtx)
	require.NoError(t, err)
	return outcome
}

// andGate joins two bool inputs: it runs only when both hold a message and
// emits their conjunction.
func andGate(name string, runs *atomic.Int64) core.Agent {
	return core.NewFuncAgent(name,
		[]core.PortSpec{
			core.InputPort("a", schema.Bool),
			core.InputPort("b", schema.Bool),
			core.OutputPort("out", schema.Bool),
		},
		func(rc core.RunContext) core.Signal {
			if runs != nil {
				runs.Add(1)
			}
			ma, err := rc.Receive("a")
			if err != nil {
				return core.Fail(err)
			}
			mb, err := rc.Receive("b")
			if err != nil {
				return core.Fail(err)
			}
			va, err := schema.DecodeBool(ma)
			if err != nil {
				return core.Fail(err)
			}
			vb, err := schema.DecodeBool(mb)
			if err != nil {
				return core.Fail(err)
			}
			if err := rc.Send("out", schema.EncodeBool(va && vb)); err != nil {
				return core.Fail(err)
			}
			return core.Continue()
		})
}

func TestANDGateJoinsPairwise(t *testing.T) {
	sink, got := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("lhs", schema.Bool, testutil.BoolMessages(true, true, false)...),
			testutil.Emitter("rhs", schema.Bool, testutil.BoolMessages(true, false, true)...),
			andGate("gate", nil),
			sink,
		},
		[]network.Connection{
			{From: network.EP("lhs", "out"), To: network.EP("gate", "a")},
			{From: network.EP("rhs", "out"), To: network.EP("gate", "b")},
			{From: network.EP("gate", "out"), To: network.EP("sink", "in")},
		},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil)
	assert.True(t, outcome.Completed)
	assert.Equal(t, []bool{true, false, false}, testutil.Bools(t, *got))
}

func TestANDGateNeverRunsOnOneInput(t *testing.T) {
	var runs atomic.Int64
	net, err := network.Build(
		[]core.Agent{andGate("gate", &runs)},
		nil,
		network.WithExposedInputs(network.EP("gate", "a"), network.EP("gate", "b")),
	)
	require.NoError(t, err)

	outcome := run(t, net, func(eng *Engine) {
		require.NoError(t, eng.Inject(context.Background(), network.EP("gate", "a"), schema.EncodeBool(true)))
	})
	assert.True(t, outcome.Completed)
	assert.Zero(t, runs.Load(), "gate must not run with only one input pending")
}

func TestConnectionPreservesOrder(t *testing.T) {
	msgs := make([]core.Message, 20)
	for i := range msgs {
		msgs[i] = schema.EncodeInt64(int64(i))
	}
	sink, got := testutil.Sink("sink", schema.Int64)
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("src", schema.Int64, msgs...),
			testutil.Forward("fwd", schema.Int64),
			sink,
		},
		[]network.Connection{
			{From: network.EP("src", "out"), To: network.EP("fwd", "in")},
			{From: network.EP("fwd", "out"), To: network.EP("sink", "in")},
		},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil)
	assert.True(t, outcome.Completed)
	require.Len(t, *got, len(msgs))
	for i, m := range *got {
		v, err := schema.DecodeInt64(m)
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
}

func TestBackpressureCapacityOne(t *testing.T) {
	msgs := make([]core.Message, 10)
	for i := range msgs {
		msgs[i] = schema.EncodeInt64(int64(i))
	}
	sink, got := testutil.Sink("sink", schema.Int64)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Int64, msgs...), sink},
		[]network.Connection{
			{From: network.EP("src", "out"), To: network.EP("sink", "in"), Capacity: 1},
		},
	)
	require.NoError(t, err)

	// With a single run slot the emitter parks against the full buffer on
	// every send; parking yields the slot so the sink can drain. Every
	// message must still arrive, in order.
	outcome := run(t, net, nil, WithConfig(Config{MaxConcurrentRuns: 1}))
	assert.True(t, outcome.Completed)
	require.Len(t, *got, len(msgs))
	for i, m := range *got {
		v, err := schema.DecodeInt64(m)
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
}

func TestBlockedProducersYieldToConsumers(t *testing.T) {
	elements := []string{"a", "b", "c", "d"}
	sink, got := testutil.Sink("sink", schema.Int64)
	join := core.NewFuncAgent("join",
		[]core.PortSpec{
			core.InputArrayPort("in", schema.Int64, elements...),
			core.OutputPort("sum", schema.Int64),
		},
		func(rc core.RunContext) core.Signal {
			var total int64
			for _, el := range elements {
				m, err := rc.ReceiveFrom("in", el)
				if err != nil {
					return core.Fail(err)
				}
				v, err := schema.DecodeInt64(m)
				if err != nil {
					return core.Fail(err)
				}
				total += v
			}
			if err := rc.Send("sum", schema.EncodeInt64(total)); err != nil {
				return core.Fail(err)
			}
			return core.Continue()
		})

	agents := []core.Agent{join, sink}
	conns := []network.Connection{
		{From: network.EP("join", "sum"), To: network.EP("sink", "in")},
	}
	for _, el := range elements {
		name := "src_" + el
		agents = append(agents, testutil.Emitter(name, schema.Int64,
			schema.EncodeInt64(1), schema.EncodeInt64(2), schema.EncodeInt64(3)))
		conns = append(conns, network.Connection{
			From: network.EP(name, "out"), To: network.EPE("join", "in", el), Capacity: 1,
		})
	}
	net, err := network.Build(agents, conns)
	require.NoError(t, err)

	// All four producers fill their capacity-1 buffers and park at once,
	// using up the default run limit; the join must still get scheduled
	// because parked sends hold no run slot.
	outcome := run(t, net, nil)
	assert.True(t, outcome.Completed)
	require.Len(t, *got, 3)
	for i, m := range *got {
		v, err := schema.DecodeInt64(m)
		require.NoError(t, err)
		assert.Equal(t, int64(4*(i+1)), v)
	}
}

func TestBroadcastDeliversIndependentCopies(t *testing.T) {
	fan := core.NewFuncAgent("fan",
		[]core.PortSpec{
			core.InputPort("in", schema.Bool),
			core.OutputArrayPort("clone", schema.Bool, "left", "right"),
		},
		func(rc core.RunContext) core.Signal {
			m, err := rc.Receive("in")
			if err != nil {
				return core.Fail(err)
			}
			if err := rc.Broadcast("clone", m); err != nil {
				return core.Fail(err)
			}
			return core.Continue()
		})
	left, lgot := testutil.Sink("left", schema.Bool)
	right, rgot := testutil.Sink("right", schema.Bool)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, schema.EncodeBool(true)), fan, left, right},
		[]network.Connection{
			{From: network.EP("src", "out"), To: network.EP("fan", "in")},
			{From: network.EPE("fan", "clone", "left"), To: network.EP("left", "in")},
			{From: network.EPE("fan", "clone", "right"), To: network.EP("right", "in")},
		},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil)
	assert.True(t, outcome.Completed)
	require.Len(t, *lgot, 1)
	require.Len(t, *rgot, 1)
	assert.Equal(t, (*lgot)[0].Data, (*rgot)[0].Data)
	assert.NotEqual(t, (*lgot)[0].ID, (*rgot)[0].ID, "copies must have distinct identity")
}

func TestCascadingEndLeavesSiblingsAlone(t *testing.T) {
	var siblingRuns atomic.Int64
	sibling := core.NewFuncAgent("sibling",
		[]core.PortSpec{core.InputPort("in", schema.Bool)},
		func(rc core.RunContext) core.Signal {
			if _, err := rc.Receive("in"); err != nil {
				return core.Fail(err)
			}
			siblingRuns.Add(1)
			return core.Continue()
		})
	sink, got := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("src", schema.Bool, testutil.BoolMessages(true, false, true)...),
			testutil.Forward("fwd", schema.Bool),
			sink,
			sibling,
		},
		[]network.Connection{
			{From: network.EP("src", "out"), To: network.EP("fwd", "in")},
			{From: network.EP("fwd", "out"), To: network.EP("sink", "in")},
		},
		network.WithExposedInputs(network.EP("sibling", "in")),
	)
	require.NoError(t, err)

	outcome := run(t, net, func(eng *Engine) {
		require.NoError(t, eng.Inject(context.Background(), network.EP("sibling", "in"), schema.EncodeBool(true)))
	})
	assert.True(t, outcome.Completed)
	assert.Len(t, *got, 3, "residue must drain after the upstream End")
	assert.Equal(t, int64(1), siblingRuns.Load())
}

func TestSeededAccumulatorFeedback(t *testing.T) {
	counter := core.NewFuncAgent("counter",
		[]core.PortSpec{
			core.InputPort("in", schema.Int64),
			core.AccumulatorPort("total", schema.Int64, schema.EncodeInt64(0)),
			core.OutputPort("sum", schema.Int64),
		},
		func(rc core.RunContext) core.Signal {
			acc, ok := rc.Peek("total")
			if !ok {
				return core.Fail(errors.New("accumulator not latched"))
			}
			total, err := schema.DecodeInt64(acc)
			if err != nil {
				return core.Fail(err)
			}
			m, err := rc.Receive("in")
			if err != nil {
				return core.Fail(err)
			}
			v, err := schema.DecodeInt64(m)
			if err != nil {
				return core.Fail(err)
			}
			if err := rc.Send("sum", schema.EncodeInt64(total+v)); err != nil {
				return core.Fail(err)
			}
			return core.Continue()
		})
	sink, got := testutil.Sink("sink", schema.Int64)
	net, err := network.Build(
		[]core.Agent{counter, sink},
		[]network.Connection{
			{From: network.EP("counter", "sum"), To: network.EP("counter", "total")},
			{From: network.EP("counter", "sum"), To: network.EP("sink", "in")},
		},
		network.WithExposedInputs(network.EP("counter", "in")),
	)
	require.NoError(t, err)

	outcome := run(t, net, func(eng *Engine) {
		ctx := context.Background()
		for _, v := range []int64{1, 2, 3} {
			require.NoError(t, eng.Inject(ctx, network.EP("counter", "in"), schema.EncodeInt64(v)))
		}
	})
	assert.True(t, outcome.Completed)

	sums := make([]int64, 0, len(*got))
	for _, m := range *got {
		v, err := schema.DecodeInt64(m)
		require.NoError(t, err)
		sums = append(sums, v)
	}
	assert.Equal(t, []int64{1, 3, 6}, sums)
}

func TestOptionPortIsIdempotentAndNonBlocking(t *testing.T) {
	var seen []bool
	reader := core.NewFuncAgent("reader",
		[]core.PortSpec{
			core.InputPort("in", schema.Bool),
			core.OptionPort("mode", schema.Bool),
		},
		func(rc core.RunContext) core.Signal {
			if _, err := rc.Receive("in"); err != nil {
				return core.Fail(err)
			}
			// Two peeks in one run observe the same value.
			m1, ok1 := rc.Peek("mode")
			m2, ok2 := rc.Peek("mode")
			if ok1 != ok2 || (ok1 && m1.ID != m2.ID) {
				return core.Fail(errors.New("peek is not idempotent"))
			}
			seen = append(seen, ok1)
			return core.Continue()
		})
	net, err := network.Build([]core.Agent{reader}, nil,
		network.WithExposedInputs(network.EP("reader", "in")))
	require.NoError(t, err)
	assert.Contains(t, net.BoundaryInputs(), network.EP("reader", "mode"))

	ran := make(chan struct{}, 4)
	cm := NewCallbackManager()
	cm.Register(NewFunctionCallback(CallbackAfterRun, func(ctx context.Context, cbCtx *CallbackContext) error {
		ran <- struct{}{}
		return nil
	}))

	outcome := run(t, net, func(eng *Engine) {
		ctx := context.Background()
		// First run observes the option absent. Latch it only once that run
		// has finished, then trigger a second run.
		require.NoError(t, eng.Inject(ctx, network.EP("reader", "in"), schema.EncodeBool(true)))
		select {
		case <-ran:
		case <-time.After(awaitTimeout):
			t.Fatal("first run did not complete")
		}
		require.NoError(t, eng.Inject(ctx, network.EP("reader", "mode"), schema.EncodeBool(true)))
		require.NoError(t, eng.Inject(ctx, network.EP("reader", "in"), schema.EncodeBool(true)))
	}, WithCallbacks(cm))
	assert.True(t, outcome.Completed)
	assert.Equal(t, []bool{false, true}, seen)
}

func failingAgent(name string, err error) core.Agent {
	return core.NewFuncAgent(name,
		[]core.PortSpec{
			core.InputPort("in", schema.Bool),
			core.OutputPort("out", schema.Bool),
		},
		func(rc core.RunContext) core.Signal {
			if _, rerr := rc.Receive("in"); rerr != nil {
				return core.Fail(rerr)
			}
			return core.Fail(err)
		})
}

func failureNet(t *testing.T) (*network.Network, *[]core.Message) {
	t.Helper()
	sink, got := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("src", schema.Bool, schema.EncodeBool(true)),
			failingAgent("broken", errors.New("boom")),
			sink,
		},
		[]network.Connection{
			{From: network.EP("src", "out"), To: network.EP("broken", "in")},
			{From: network.EP("broken", "out"), To: network.EP("sink", "in")},
		},
	)
	require.NoError(t, err)
	return net, got
}

func TestFailurePolicyStall(t *testing.T) {
	net, got := failureNet(t)
	outcome := run(t, net, nil, WithFailurePolicy(FailureStall))
	assert.False(t, outcome.Completed)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "broken", outcome.Failures[0].Agent)
	assert.EqualError(t, outcome.Failures[0].Err, "boom")
	assert.Empty(t, *got)
}

func TestFailurePolicySynthesizeEnd(t *testing.T) {
	net, got := failureNet(t)
	outcome := run(t, net, nil, WithFailurePolicy(FailureSynthesizeEnd))
	assert.False(t, outcome.Completed)
	require.Len(t, outcome.Failures, 1)
	assert.Empty(t, *got)
}

func TestFailurePolicyPropagate(t *testing.T) {
	net, got := failureNet(t)
	outcome := run(t, net, nil, WithFailurePolicy(FailurePropagate))
	assert.False(t, outcome.Completed)
	require.Len(t, outcome.Failures, 2)
	assert.Equal(t, "broken", outcome.Failures[0].Agent)
	assert.Equal(t, "sink", outcome.Failures[1].Agent)
	assert.ErrorContains(t, outcome.Failures[1].Err, "upstream agent broken failed")
	assert.ErrorContains(t, outcome.Failures[1].Err, "boom")
	assert.Empty(t, *got)
}

func TestFailureLeavesSiblingsRunning(t *testing.T) {
	sink, got := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("good", schema.Bool, testutil.BoolMessages(true, false)...),
			testutil.Emitter("bad", schema.Bool, schema.EncodeBool(true)),
			failingAgent("broken", errors.New("boom")),
			sink,
		},
		[]network.Connection{
			{From: network.EP("good", "out"), To: network.EP("sink", "in")},
			{From: network.EP("bad", "out"), To: network.EP("broken", "in")},
		},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil, WithFailurePolicy(FailurePropagate))
	assert.False(t, outcome.Completed)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "broken", outcome.Failures[0].Agent)
	assert.Len(t, *got, 2, "unrelated pipeline must complete normally")
}

func TestPanicBecomesFailure(t *testing.T) {
	bomb := core.NewFuncAgent("bomb",
		[]core.PortSpec{core.InputPort("in", schema.Bool)},
		func(rc core.RunContext) core.Signal {
			if _, err := rc.Receive("in"); err != nil {
				return core.Fail(err)
			}
			panic("kaboom")
		})
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, schema.EncodeBool(true)), bomb},
		[]network.Connection{{From: network.EP("src", "out"), To: network.EP("bomb", "in")}},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil)
	assert.False(t, outcome.Completed)
	require.Len(t, outcome.Failures, 1)
	assert.ErrorContains(t, outcome.Failures[0].Err, "panicked")
	assert.ErrorContains(t, outcome.Failures[0].Err, "kaboom")
}

func TestCancellationActsAsSyntheticEnd(t *testing.T) {
	var sent atomic.Int64
	pump := core.NewFuncAgent("pump",
		[]core.PortSpec{core.OutputPort("out", schema.Int64)},
		func(rc core.RunContext) core.Signal {
			for rc.Context().Err() == nil {
				if err := rc.Send("out", schema.EncodeInt64(sent.Add(1))); err != nil {
					return core.Fail(err)
				}
			}
			return core.End()
		})
	sink, _ := testutil.Sink("sink", schema.Int64)
	net, err := network.Build(
		[]core.Agent{pump, sink},
		[]network.Connection{{From: network.EP("pump", "out"), To: network.EP("sink", "in"), Capacity: 2}},
	)
	require.NoError(t, err)

	eng := New(net)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.Start(ctx))

	time.Sleep(50 * time.Millisecond)
	cancel()

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer awaitCancel()
	outcome, err := eng.AwaitTerminal(awaitCtx)
	require.NoError(t, err)
	assert.True(t, outcome.Completed, "cancellation is a synthetic End, not a failure")
	assert.Positive(t, sent.Load())
}

func TestTapObservesBoundaryOutput(t *testing.T) {
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, testutil.BoolMessages(true, false, true)...)},
		nil,
	)
	require.NoError(t, err)

	eng := New(net)
	tap, err := eng.Tap(network.EP("src", "out"))
	require.NoError(t, err)

	outcome := runEngine(t, eng, nil)
	assert.True(t, outcome.Completed)
	assert.Equal(t, []bool{true, false, true}, testutil.Bools(t, testutil.Drain(t, tap, awaitTimeout)))
}

func TestTapClosesWithoutAwaitTerminal(t *testing.T) {
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, testutil.BoolMessages(true, false)...)},
		nil,
	)
	require.NoError(t, err)

	eng := New(net)
	tap, err := eng.Tap(network.EP("src", "out"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	// Nobody calls AwaitTerminal; the tap must still close once the
	// emitter has ended and the network is terminal.
	got := testutil.Drain(t, tap, awaitTimeout)
	assert.Equal(t, []bool{true, false}, testutil.Bools(t, got))
}

func TestTapRejectsNonBoundaryAndLateAttach(t *testing.T) {
	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, schema.EncodeBool(true)), sink},
		[]network.Connection{{From: network.EP("src", "out"), To: network.EP("sink", "in")}},
	)
	require.NoError(t, err)

	eng := New(net)
	_, err = eng.Tap(network.EP("src", "out"))
	assert.ErrorContains(t, err, "not a boundary output")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	_, err = eng.Tap(network.EP("src", "out"))
	assert.ErrorContains(t, err, "before Start")

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer awaitCancel()
	_, err = eng.AwaitTerminal(awaitCtx)
	require.NoError(t, err)
}

func TestInjectAfterSealFails(t *testing.T) {
	sink, got := testutil.Sink("sink", schema.Bool)
	net, err := network.Build([]core.Agent{sink}, nil,
		network.WithExposedInputs(network.EP("sink", "in")))
	require.NoError(t, err)

	eng := New(net)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	require.NoError(t, eng.Inject(ctx, network.EP("sink", "in"), schema.EncodeBool(true)))

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer awaitCancel()
	outcome, err := eng.AwaitTerminal(awaitCtx)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)
	assert.Len(t, *got, 1)

	err = eng.Inject(ctx, network.EP("sink", "in"), schema.EncodeBool(false))
	assert.ErrorContains(t, err, "sealed")
}

func TestInjectRejectsNonBoundaryEndpoints(t *testing.T) {
	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, schema.EncodeBool(true)), sink},
		[]network.Connection{{From: network.EP("src", "out"), To: network.EP("sink", "in")}},
	)
	require.NoError(t, err)

	eng := New(net)
	err = eng.Inject(context.Background(), network.EP("sink", "in"), schema.EncodeBool(true))
	assert.ErrorContains(t, err, "not a boundary input")
	err = eng.Inject(context.Background(), network.EP("sink", "nope"), schema.EncodeBool(true))
	assert.ErrorIs(t, err, network.ErrMalformed)
}

func TestInjectValidatesMessageSchema(t *testing.T) {
	net, err := network.Build(
		[]core.Agent{testutil.Forward("fwd", schema.Int64)},
		nil,
		network.WithExposedInputs(network.EP("fwd", "in")),
	)
	require.NoError(t, err)

	outcome := run(t, net, func(eng *Engine) {
		err := eng.Inject(context.Background(), network.EP("fwd", "in"), schema.EncodeBool(true))
		assert.ErrorContains(t, err, "does not match schema")
		require.NoError(t, eng.Inject(context.Background(), network.EP("fwd", "in"), schema.EncodeInt64(7)))
	})
	assert.True(t, outcome.Completed)
}

func TestInjectRejectsConnectedOptionPort(t *testing.T) {
	scaler := core.NewFuncAgent("scaler",
		[]core.PortSpec{
			core.InputPort("in", schema.Int64),
			core.OptionPort("factor", schema.Int64),
			core.OptionPort("offset", schema.Int64),
			core.OutputPort("out", schema.Int64),
		},
		func(rc core.RunContext) core.Signal { return core.End() })
	net, err := network.Build(
		[]core.Agent{
			testutil.Emitter("cfg", schema.Int64, schema.EncodeInt64(2)),
			scaler,
		},
		[]network.Connection{
			{From: network.EP("cfg", "out"), To: network.EP("scaler", "factor")},
		},
		network.WithExposedInputs(network.EP("scaler", "in")),
	)
	require.NoError(t, err)

	eng := New(net)
	// factor has an internal producer, so it is not an entry port even
	// though it is an option port; offset remains injectable.
	err = eng.Inject(context.Background(), network.EP("scaler", "factor"), schema.EncodeInt64(3))
	assert.ErrorContains(t, err, "not a boundary input")
	require.NoError(t, eng.Inject(context.Background(), network.EP("scaler", "offset"), schema.EncodeInt64(1)))
}

func TestCallbacksObserveRuns(t *testing.T) {
	var before, after, terminalSignals atomic.Int64
	cm := NewCallbackManager()
	cm.Register(NewFunctionCallback(CallbackBeforeRun, func(ctx context.Context, cbCtx *CallbackContext) error {
		before.Add(1)
		return nil
	}))
	cm.Register(NewFunctionCallback(CallbackAfterRun, func(ctx context.Context, cbCtx *CallbackContext) error {
		after.Add(1)
		if cbCtx.Signal != nil && cbCtx.Signal.Terminal() {
			terminalSignals.Add(1)
		}
		return nil
	}))

	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, testutil.BoolMessages(true, false)...), sink},
		[]network.Connection{{From: network.EP("src", "out"), To: network.EP("sink", "in")}},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil, WithCallbacks(cm))
	assert.True(t, outcome.Completed)
	assert.Equal(t, before.Load(), after.Load())
	// One emitter run plus at least one sink run.
	assert.GreaterOrEqual(t, before.Load(), int64(2))
	// Exactly the emitter's End is terminal.
	assert.Equal(t, int64(1), terminalSignals.Load())
}

func TestRecorderCapturesRunsAndDeliveries(t *testing.T) {
	rec := trace.NewInMemoryRecorder()
	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build(
		[]core.Agent{testutil.Emitter("src", schema.Bool, testutil.BoolMessages(true, false)...), sink},
		[]network.Connection{{From: network.EP("src", "out"), To: network.EP("sink", "in")}},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil, WithRecorder(rec))
	assert.True(t, outcome.Completed)

	require.Len(t, rec.RunsFor("src"), 1)
	assert.Equal(t, "end", rec.RunsFor("src")[0].Signal)
	assert.NotEmpty(t, rec.RunsFor("sink"))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "src.out", m.From)
		assert.Equal(t, "sink.in", m.To)
		assert.Equal(t, string(schema.Bool.ID), m.Type)
	}
}

func TestQuiescentCycleCompletes(t *testing.T) {
	// A two-agent cycle with no pending messages anywhere is
	// deadlock-by-design: sealing must let AwaitTerminal return Completed.
	net, err := network.Build(
		[]core.Agent{testutil.Forward("ping", schema.Bool), testutil.Forward("pong", schema.Bool)},
		[]network.Connection{
			{From: network.EP("ping", "out"), To: network.EP("pong", "in")},
			{From: network.EP("pong", "out"), To: network.EP("ping", "in")},
		},
	)
	require.NoError(t, err)

	outcome := run(t, net, nil)
	assert.True(t, outcome.Completed)
	assert.Empty(t, outcome.Failures)
}

func TestEngineStartTwiceFails(t *testing.T) {
	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build([]core.Agent{sink}, nil,
		network.WithExposedInputs(network.EP("sink", "in")))
	require.NoError(t, err)

	eng := New(net)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	assert.Error(t, eng.Start(ctx))

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer awaitCancel()
	_, err = eng.AwaitTerminal(awaitCtx)
	require.NoError(t, err)
}

func TestAwaitBeforeStartFails(t *testing.T) {
	sink, _ := testutil.Sink("sink", schema.Bool)
	net, err := network.Build([]core.Agent{sink}, nil,
		network.WithExposedInputs(network.EP("sink", "in")))
	require.NoError(t, err)

	_, err = New(net).AwaitTerminal(context.Background())
	assert.ErrorContains(t, err, "not started")
}

func TestParseFailurePolicy(t *testing.T) {
	for s, want := range map[string]FailurePolicy{
		"":               FailureStall,
		"stall":          FailureStall,
		"synthesize_end": FailureSynthesizeEnd,
		"propagate":      FailurePropagate,
	} {
		p, err := ParseFailurePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
	_, err := ParseFailurePolicy("explode")
	assert.Error(t, err)
}
