package health

// Thresholds holds the warning/critical/recovery levels for one indicator.
// Warning pushes a healthy indicator to degraded, critical pushes degraded to
// unhealthy, and recovery is the level the value must drop back under (with
// margin) before the indicator improves.
type Thresholds struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
	Recovery float64 `json:"recovery" yaml:"recovery"`
}

// recoveryMargin is the hysteresis factor: a value must fall to 95% of the
// recovery threshold before an indicator steps toward healthy, so readings
// hovering at the boundary cannot flicker.
const recoveryMargin = 0.95

// nextIndicatorState advances one indicator by at most one hop. Values inside
// the band between the recovery margin and the warning threshold hold the
// previous state.
func nextIndicatorState(prev State, value float64, th Thresholds) State {
	var target State
	switch {
	case value >= th.Critical:
		target = StateUnhealthy
	case value >= th.Warning:
		target = StateDegraded
	case value <= th.Recovery*recoveryMargin:
		target = StateHealthy
	default:
		return prev
	}
	return stepToward(prev, target)
}

// stepToward moves prev one hop toward target, never skipping the middle
// state.
func stepToward(prev, target State) State {
	pr, tr := prev.rank(), target.rank()
	switch {
	case tr > pr:
		return stateAtRank(pr + 1)
	case tr < pr:
		return stateAtRank(pr - 1)
	default:
		return prev
	}
}

func stateAtRank(r int) State {
	switch r {
	case 0:
		return StateHealthy
	case 1:
		return StateDegraded
	default:
		return StateUnhealthy
	}
}

// indicatorScore maps an indicator state to its contribution weight.
func indicatorScore(s State) float64 {
	switch s {
	case StateHealthy:
		return 1
	case StateDegraded:
		return 0.4
	default:
		return 0
	}
}

// Composite score weights. Performance dominates because latency regressions
// are the earliest external symptom.
const (
	memoryWeight      = 0.25
	performanceWeight = 0.50
	errorsWeight      = 0.25
)

// compositeScore folds the three indicator states into a single [0,1] score.
func compositeScore(memory, performance, errors State) float64 {
	return memoryWeight*indicatorScore(memory) +
		performanceWeight*indicatorScore(performance) +
		errorsWeight*indicatorScore(errors)
}

// Proposal bounds used by the state-dependent promotion/demotion rules.
const (
	promoteScore = 0.85
	demoteScore  = 0.45
)

// proposeState derives the proposed overall state from the current state, the
// composite score and the three indicator states. The proposal is advisory;
// the state machine decides whether it becomes real.
func proposeState(current State, score float64, memory, performance, errors State) State {
	anyNonHealthy := memory != StateHealthy || performance != StateHealthy || errors != StateHealthy
	anyUnhealthy := memory == StateUnhealthy || performance == StateUnhealthy || errors == StateUnhealthy

	switch current {
	case StateHealthy:
		if score < promoteScore || anyNonHealthy {
			return StateDegraded
		}
		return StateHealthy
	case StateDegraded:
		if score >= promoteScore && !anyNonHealthy {
			return StateHealthy
		}
		if anyUnhealthy || score < demoteScore {
			return StateUnhealthy
		}
		return StateDegraded
	default: // unhealthy
		if score >= demoteScore && !anyUnhealthy {
			return StateDegraded
		}
		return StateUnhealthy
	}
}

// Evaluator augments a freshly computed status before the monitor records
// it. Evaluators run in registration order and must not assume exclusive
// ownership of the status they receive.
type Evaluator interface {
	Evaluate(Status) Status
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(Status) Status

func (f EvaluatorFunc) Evaluate(s Status) Status {
	return f(s)
}
