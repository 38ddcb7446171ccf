package scope

// Step is a state of the sync session state machine.
type Step string

const (
	StepInit           Step = "init"
	StepEnsureScope    Step = "ensure_scope"
	StepEnsureSchema   Step = "ensure_schema"
	StepGettingChanges Step = "getting_changes"
	StepSendingChanges Step = "sending_changes"
	StepCompleted      Step = "completed"
	StepFailed         Step = "failed"
	StepCancelled      Step = "cancelled"
)

var transitions = map[Step][]Step{
	StepInit:           {StepEnsureScope},
	StepEnsureScope:    {StepEnsureScope, StepEnsureSchema},
	StepEnsureSchema:   {StepEnsureSchema, StepGettingChanges},
	StepGettingChanges: {StepGettingChanges, StepSendingChanges},
	StepSendingChanges: {StepSendingChanges, StepGettingChanges, StepCompleted},
}

// IsTerminal reports whether no transition leaves the step.
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepCancelled
}

// CanTransition reports whether a session may move from s to next. Any
// non-terminal step may fail or be cancelled. Repeating a step is allowed so
// that a client can retry a request.
func (s Step) CanTransition(next Step) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StepFailed || next == StepCancelled {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (s Step) String() string {
	return string(s)
}
