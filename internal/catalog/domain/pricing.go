package domain

// PlanComponentDetail joins a plan component with its offering component.
type PlanComponentDetail struct {
	PlanComponent
	Component OfferingComponent
}

// PlanDetail is a plan with its priced components resolved.
type PlanDetail struct {
	Plan
	Components []PlanComponentDetail
}

// FixedPrice is the recurring price of the fixed components.
func (p PlanDetail) FixedPrice() float64 {
	var total float64
	for _, c := range p.Components {
		if c.Component.BillingType == BillingTypeFixed {
			total += c.Price * float64(c.Amount)
		}
	}
	return total
}

// InitPrice is charged once when a resource is created on the plan.
func (p PlanDetail) InitPrice() float64 {
	return p.sumByBillingType(BillingTypeOneTime)
}

// SwitchPrice is charged when an existing resource moves onto the plan.
func (p PlanDetail) SwitchPrice() float64 {
	return p.sumByBillingType(BillingTypeOnPlanSwitch)
}

// GetEstimate prices the plan for the requested limits: the unit price
// plus each limit component's price scaled by the requested limit over
// the component factor.
func (p PlanDetail) GetEstimate(limits map[string]int64) float64 {
	total := p.UnitPrice
	for _, c := range p.Components {
		if c.Component.BillingType != BillingTypeLimit {
			continue
		}
		limit, ok := limits[c.Component.Type]
		if !ok {
			continue
		}
		factor := c.Component.Factor
		if factor <= 0 {
			factor = 1
		}
		total += c.Price * float64(limit) / float64(factor)
	}
	return total
}

func (p PlanDetail) sumByBillingType(billingType BillingType) float64 {
	var total float64
	for _, c := range p.Components {
		if c.Component.BillingType == billingType {
			total += c.Price
		}
	}
	return total
}
