package appointment

// transitions is the role-scoped legality table for direct status changes.
// Reschedule negotiation statuses are entered and left by the negotiation
// protocol, not through this table.
var transitions = map[Role]map[Status][]Status{
	RoleDoctor: {
		StatusPending:    {StatusConfirmed, StatusRejected},
		StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
		StatusInProgress: {StatusCompleted, StatusCancelled},
	},
	RolePatient: {
		StatusPending:   {StatusCancelled},
		StatusConfirmed: {StatusCancelled},
	},
}

// CanTransition reports whether the role may move an appointment from one
// status to another.
func CanTransition(role Role, from, to Status) bool {
	for _, allowed := range transitions[role][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTargets lists the statuses the role may move to from the given one.
func AllowedTargets(role Role, from Status) []Status {
	targets := transitions[role][from]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}
