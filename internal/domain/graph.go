package domain

// legalTransitions is the total allowed-transition graph over state types.
// Every (from, to) pair not listed here and not a same-type transition is
// illegal and must be rejected before any rule with side effects runs.
var legalTransitions = map[StateType][]StateType{
	StateTypeScheduled: {StateTypePending, StateTypeCancelled},
	StateTypePending:   {StateTypeRunning, StateTypeCancelled, StateTypeCrashed},
	StateTypeRunning:   {StateTypeCompleted, StateTypeFailed, StateTypeCrashed, StateTypeCancelled, StateTypePaused, StateTypeScheduled},
	StateTypePaused:    {StateTypeRunning, StateTypeCancelled, StateTypeCrashed},
	StateTypeFailed:    {StateTypeScheduled},
	StateTypeCrashed:   {StateTypeScheduled},
	StateTypeCompleted: {},
	StateTypeCancelled: {},
}

// CanTransition reports whether the (from, to) pair is in the legal graph.
// Same-type transitions are always legal: they cover no-op touches and named
// sub-states such as Scheduled -> Late.
func CanTransition(from, to StateType) bool {
	if NormalizeStateType(string(from)) == "" || NormalizeStateType(string(to)) == "" {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
