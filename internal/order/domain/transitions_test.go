package domain

import "testing"

func TestIsOrderTransitionAllowed(t *testing.T) {
	tests := []struct {
		name    string
		current OrderState
		target  OrderState
		want    bool
	}{
		{"requested to executing", OrderStateRequested, OrderStateExecuting, true},
		{"requested to rejected", OrderStateRequested, OrderStateRejected, true},
		{"requested to done", OrderStateRequested, OrderStateDone, false},
		{"executing to done", OrderStateExecuting, OrderStateDone, true},
		{"executing to rejected", OrderStateExecuting, OrderStateRejected, false},
		{"done to executing", OrderStateDone, OrderStateExecuting, false},
		{"rejected to executing", OrderStateRejected, OrderStateExecuting, false},
		{"requested to terminated", OrderStateRequested, OrderStateTerminated, true},
		{"executing to terminated", OrderStateExecuting, OrderStateTerminated, true},
		{"done to terminated", OrderStateDone, OrderStateTerminated, true},
		{"requested to erred", OrderStateRequested, OrderStateErred, true},
		{"done to erred", OrderStateDone, OrderStateErred, true},
		{"self transition", OrderStateExecuting, OrderStateExecuting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOrderTransitionAllowed(tt.current, tt.target); got != tt.want {
				t.Fatalf("IsOrderTransitionAllowed(%s, %s) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestIsItemTransitionAllowed(t *testing.T) {
	tests := []struct {
		name    string
		current OrderItemState
		target  OrderItemState
		want    bool
	}{
		{"pending to executing", OrderItemStatePending, OrderItemStateExecuting, true},
		{"erred to executing", OrderItemStateErred, OrderItemStateExecuting, true},
		{"done to executing", OrderItemStateDone, OrderItemStateExecuting, false},
		{"executing to done", OrderItemStateExecuting, OrderItemStateDone, true},
		{"pending to done", OrderItemStatePending, OrderItemStateDone, false},
		{"pending to erred", OrderItemStatePending, OrderItemStateErred, true},
		{"executing to erred", OrderItemStateExecuting, OrderItemStateErred, true},
		{"terminating to erred", OrderItemStateTerminating, OrderItemStateErred, true},
		{"done to erred", OrderItemStateDone, OrderItemStateErred, false},
		{"terminated to erred", OrderItemStateTerminated, OrderItemStateErred, false},
		{"pending to terminating", OrderItemStatePending, OrderItemStateTerminating, true},
		{"executing to terminating", OrderItemStateExecuting, OrderItemStateTerminating, true},
		{"erred to terminating", OrderItemStateErred, OrderItemStateTerminating, true},
		{"done to terminating", OrderItemStateDone, OrderItemStateTerminating, false},
		{"terminating to terminated", OrderItemStateTerminating, OrderItemStateTerminated, true},
		{"executing to terminated", OrderItemStateExecuting, OrderItemStateTerminated, false},
		{"self transition", OrderItemStatePending, OrderItemStatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsItemTransitionAllowed(tt.current, tt.target); got != tt.want {
				t.Fatalf("IsItemTransitionAllowed(%s, %s) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestOrderItemIsTerminal(t *testing.T) {
	terminal := []OrderItemState{OrderItemStateDone, OrderItemStateErred, OrderItemStateTerminated}
	for _, state := range terminal {
		if !(OrderItem{State: state}).IsTerminal() {
			t.Fatalf("expected %s to be terminal", state)
		}
	}

	live := []OrderItemState{OrderItemStatePending, OrderItemStateExecuting, OrderItemStateTerminating}
	for _, state := range live {
		if (OrderItem{State: state}).IsTerminal() {
			t.Fatalf("expected %s not to be terminal", state)
		}
	}
}
