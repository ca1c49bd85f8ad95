package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

var (
	ErrInvalidInvoice     = errors.New("invalid_invoice")
	ErrInvalidInvoiceItem = errors.New("invalid_invoice_item")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrItemNotFound       = errors.New("invoice_item_not_found")
	ErrResourceNotFound   = errors.New("resource_not_found")
	ErrComponentNotFound  = errors.New("component_not_found")
	ErrUsageNotFound      = errors.New("usage_not_found")
	ErrNotUsageBased      = errors.New("component_not_usage_based")
)

// UsageTotal is one aggregated figure keyed by category component.
type UsageTotal struct {
	CategoryComponentID snowflake.ID
	Total               int64
}

// StaleResource identifies a resource that produced no billable charge
// over the inspected months.
type StaleResource struct {
	ResourceID   snowflake.ID
	ResourceName string
	CustomerID   snowflake.ID
}

type Service interface {
	// GetOrCreatePendingInvoice returns the customer's invoice for the
	// month, creating a pending one when absent.
	GetOrCreatePendingInvoice(ctx context.Context, customerID snowflake.ID, year int, month time.Month) (Invoice, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (Invoice, error)
	ListItems(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceItem, error)
	AddItem(ctx context.Context, item InvoiceItem) (InvoiceItem, error)
	// UpdateCurrentCost recomputes the invoice's cached cost from its items.
	UpdateCurrentCost(ctx context.Context, invoiceID snowflake.ID) error

	// CreateMonthlyInvoices rolls the books into the current month:
	// pending invoices of earlier months become created, recurring usage
	// reports are copied forward, and every billable resource gets its
	// base and usage lines on the customer's pending invoice. Safe to
	// re-run within a month.
	CreateMonthlyInvoices(ctx context.Context) error

	// UpdateItemQuantity changes a usage-based line's quantity and
	// overwrites the backing component usage report for the same
	// resource, component and billing month.
	UpdateItemQuantity(ctx context.Context, itemID snowflake.ID, quantity float64) error

	// AggregateReportedUsage sums component usage reports within the
	// window by parent category component.
	AggregateReportedUsage(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) ([]UsageTotal, error)
	// AggregateFixedUsage sums fixed plan component amounts over plan
	// periods overlapping the window.
	AggregateFixedUsage(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) ([]UsageTotal, error)
	// CalculateUsageForScope upserts one rollup row per category
	// component seen in either aggregate. Safe to re-run.
	CalculateUsageForScope(ctx context.Context, start, end time.Time, scope structuredomain.ScopeRef) error
	// CalculateUsageForCurrentMonth walks every customer and project.
	CalculateUsageForCurrentMonth(ctx context.Context) error

	// StaleResources lists resources with no nonzero-price invoice item
	// over the current and two prior months, grouped by customer.
	StaleResources(ctx context.Context, now time.Time) (map[snowflake.ID][]StaleResource, error)
}
