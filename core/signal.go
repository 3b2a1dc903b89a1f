package core

import "fmt"

// SignalKind classifies the outcome an agent reports at the end of a run.
type SignalKind int

const (
	// SignalContinue keeps the agent eligible for future runs.
	SignalContinue SignalKind = iota
	// SignalEnd deactivates the agent permanently; its ports are closed to
	// further sends and downstream agents fed only by it shut down in
	// cascade.
	SignalEnd
	// SignalFailure deactivates the agent and surfaces the error to the
	// network's failure list; sibling agents are unaffected.
	SignalFailure
)

// Signal is the completion result of a single Run invocation.
type Signal struct {
	Kind SignalKind
	Err  error
}

// Continue reports a successful run; the agent stays active.
func Continue() Signal { return Signal{Kind: SignalContinue} }

// End reports that the agent has reached its terminal condition.
func End() Signal { return Signal{Kind: SignalEnd} }

// Fail reports a domain error from the agent's own logic. The agent
// deactivates and the error is surfaced to the embedding collaborator.
func Fail(err error) Signal { return Signal{Kind: SignalFailure, Err: err} }

// Terminal reports whether the signal removes the agent from scheduling.
func (s Signal) Terminal() bool { return s.Kind != SignalContinue }

func (s Signal) String() string {
	switch s.Kind {
	case SignalContinue:
		return "continue"
	case SignalEnd:
		return "end"
	case SignalFailure:
		if s.Err != nil {
			return fmt.Sprintf("failure: %v", s.Err)
		}
		return "failure"
	default:
		return fmt.Sprintf("signal(%d)", int(s.Kind))
	}
}
