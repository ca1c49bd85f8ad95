package domain

// IsOrderTransitionAllowed reports whether an order may move between the
// two states. Termination and failure are allowed from any state.
func IsOrderTransitionAllowed(current, target OrderState) bool {
	if current == target {
		return false
	}

	switch target {
	case OrderStateTerminated, OrderStateErred:
		return true
	case OrderStateExecuting, OrderStateRejected:
		return current == OrderStateRequested
	case OrderStateDone:
		return current == OrderStateExecuting
	default:
		return false
	}
}

// IsItemTransitionAllowed reports whether an order item may move between
// the two states. Done and terminated are terminal; erred items may be
// picked up for another execution attempt.
func IsItemTransitionAllowed(current, target OrderItemState) bool {
	if current == target {
		return false
	}

	switch target {
	case OrderItemStateExecuting:
		return current == OrderItemStatePending || current == OrderItemStateErred
	case OrderItemStateDone:
		return current == OrderItemStateExecuting
	case OrderItemStateErred:
		return current != OrderItemStateDone && current != OrderItemStateTerminated
	case OrderItemStateTerminating:
		return current == OrderItemStatePending || current == OrderItemStateExecuting || current == OrderItemStateErred
	case OrderItemStateTerminated:
		return current == OrderItemStateTerminating
	default:
		return false
	}
}
