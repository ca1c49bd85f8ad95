package domain

// IsOfferingTransitionAllowed reports whether an offering may move
// between the two states. Archiving and returning to draft are allowed
// from any state.
func IsOfferingTransitionAllowed(current, target OfferingState) bool {
	if current == target {
		return false
	}

	switch target {
	case OfferingStateArchived, OfferingStateDraft:
		return true
	case OfferingStateActive:
		return current == OfferingStateDraft || current == OfferingStatePaused
	case OfferingStatePaused:
		return current == OfferingStateActive
	default:
		return false
	}
}
