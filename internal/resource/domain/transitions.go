package domain

// IsTransitionAllowed reports whether a resource may move between the
// two states. Terminated is terminal; recovery to ok is possible only
// from erred and the in-flight states.
func IsTransitionAllowed(current, target ResourceState) bool {
	if current == target || current == ResourceStateTerminated {
		return false
	}

	switch target {
	case ResourceStateOK:
		return current == ResourceStateErred ||
			current == ResourceStateCreating ||
			current == ResourceStateUpdating
	case ResourceStateErred, ResourceStateUpdating, ResourceStateTerminating:
		return true
	case ResourceStateTerminated:
		return true
	default:
		return false
	}
}
