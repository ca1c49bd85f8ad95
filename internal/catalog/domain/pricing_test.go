package domain

import (
	"math"
	"testing"
)

func planForPricing() PlanDetail {
	return PlanDetail{
		Plan: Plan{UnitPrice: 100},
		Components: []PlanComponentDetail{
			{
				PlanComponent: PlanComponent{Amount: 2, Price: 30},
				Component:     OfferingComponent{Type: "ram", BillingType: BillingTypeFixed},
			},
			{
				PlanComponent: PlanComponent{Price: 25},
				Component:     OfferingComponent{Type: "setup", BillingType: BillingTypeOneTime},
			},
			{
				PlanComponent: PlanComponent{Price: 15},
				Component:     OfferingComponent{Type: "migration", BillingType: BillingTypeOnPlanSwitch},
			},
			{
				PlanComponent: PlanComponent{Price: 10},
				Component:     OfferingComponent{Type: "cpu", BillingType: BillingTypeLimit, Factor: 1},
			},
			{
				PlanComponent: PlanComponent{Price: 8},
				Component:     OfferingComponent{Type: "storage", BillingType: BillingTypeLimit, Factor: 1024},
			},
		},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFixedPrice(t *testing.T) {
	detail := planForPricing()
	if got := detail.FixedPrice(); !almostEqual(got, 60) {
		t.Fatalf("FixedPrice() = %v, want 60", got)
	}
}

func TestInitPrice(t *testing.T) {
	detail := planForPricing()
	if got := detail.InitPrice(); !almostEqual(got, 25) {
		t.Fatalf("InitPrice() = %v, want 25", got)
	}
}

func TestSwitchPrice(t *testing.T) {
	detail := planForPricing()
	if got := detail.SwitchPrice(); !almostEqual(got, 15) {
		t.Fatalf("SwitchPrice() = %v, want 15", got)
	}
}

func TestGetEstimate(t *testing.T) {
	detail := planForPricing()

	tests := []struct {
		name   string
		limits map[string]int64
		want   float64
	}{
		{"no limits", nil, 100},
		{"cpu only", map[string]int64{"cpu": 5}, 150},
		{"factor scales storage", map[string]int64{"storage": 2048}, 116},
		{"both limit components", map[string]int64{"cpu": 5, "storage": 1024}, 158},
		{"unknown key ignored", map[string]int64{"gpu": 4}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detail.GetEstimate(tt.limits); !almostEqual(got, tt.want) {
				t.Fatalf("GetEstimate(%v) = %v, want %v", tt.limits, got, tt.want)
			}
		})
	}
}

func TestGetEstimateZeroFactor(t *testing.T) {
	detail := PlanDetail{
		Plan: Plan{UnitPrice: 0},
		Components: []PlanComponentDetail{
			{
				PlanComponent: PlanComponent{Price: 10},
				Component:     OfferingComponent{Type: "cpu", BillingType: BillingTypeLimit, Factor: 0},
			},
		},
	}
	// A zero factor is treated as 1 instead of dividing by zero.
	if got := detail.GetEstimate(map[string]int64{"cpu": 3}); !almostEqual(got, 30) {
		t.Fatalf("GetEstimate() = %v, want 30", got)
	}
}
