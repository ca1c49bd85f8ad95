// Package dispatch routes approved order items to their provisioning
// processors and contains every processor failure to the single item.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/observability/metrics"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	"github.com/stackbay/agora/internal/plugin"
)

// processorNotFoundMessage is recorded on items whose offering type has
// no registered processor. Such items are never retried.
const processorNotFoundMessage = "processor is not found"

type Dispatcher struct {
	log *zap.Logger

	plugins    *plugin.Registry
	ordersvc   orderdomain.Service
	catalogsvc catalogdomain.Service
	metrics    *metrics.PipelineMetrics
}

type DispatcherParam struct {
	fx.In

	Log        *zap.Logger
	Plugins    *plugin.Registry
	Ordersvc   orderdomain.Service
	Catalogsvc catalogdomain.Service
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		log: p.Log.Named("dispatch"),

		plugins:    p.Plugins,
		ordersvc:   p.Ordersvc,
		catalogsvc: p.Catalogsvc,
		metrics:    metrics.Pipeline(),
	}
}

// ProcessOrder dispatches every pending item of an order.
func (d *Dispatcher) ProcessOrder(ctx context.Context, orderID snowflake.ID) error {
	items, err := d.ordersvc.ListItems(ctx, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.State != orderdomain.OrderItemStatePending {
			continue
		}
		if err := d.ProcessOrderItem(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

// ProcessOrderItem runs one item through its processor. Processor errors
// and panics are captured onto the item; sibling items and the order are
// untouched. The returned error reports infrastructure failures only.
//
// Processors are expected to complete their backend work before
// returning: the item is settled as done or erred as soon as the call
// ends. A processor talking to an asynchronous backend must poll for
// completion itself instead of returning early.
func (d *Dispatcher) ProcessOrderItem(ctx context.Context, itemID snowflake.ID) error {
	item, err := d.ordersvc.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.State != orderdomain.OrderItemStatePending && item.State != orderdomain.OrderItemStateErred {
		d.log.Debug("skipping item not eligible for processing",
			zap.String("order_item_id", itemID.String()),
			zap.String("state", string(item.State)),
		)
		return nil
	}

	offering, err := d.catalogsvc.GetOffering(ctx, item.OfferingID)
	if err != nil {
		return err
	}

	processor, ok := d.plugins.ProcessorFor(offering.Type, item.Type)
	if !ok {
		d.metrics.IncOrderItemErred(offering.Type, "processor_not_found")
		return d.ordersvc.SetItemErred(ctx, orderdomain.FailOrderItemRequest{
			ItemID:  itemID,
			Message: processorNotFoundMessage,
		})
	}

	if reg, found := d.plugins.Get(offering.Type); found && reg.Validate != nil {
		if err := reg.Validate(ctx, item); err != nil && !errors.Is(err, plugin.ErrNotImplemented) {
			d.metrics.IncOrderItemErred(offering.Type, "validation_failed")
			return d.ordersvc.SetItemErred(ctx, orderdomain.FailOrderItemRequest{
				ItemID:  itemID,
				Message: err.Error(),
			})
		}
	}

	if err := d.ordersvc.SetItemExecuting(ctx, itemID); err != nil {
		return err
	}

	message, traceback := d.runProcessor(ctx, processor, item)
	if message != "" {
		d.metrics.IncOrderItemErred(offering.Type, "processor_failed")
		return d.ordersvc.SetItemErred(ctx, orderdomain.FailOrderItemRequest{
			ItemID:    itemID,
			Message:   message,
			Traceback: traceback,
		})
	}

	d.metrics.IncOrderItemProcessed(offering.Type, string(item.Type))
	return d.ordersvc.SetItemDone(ctx, itemID)
}

// runProcessor executes the processor, converting a panic into an error
// message with its stack trace.
func (d *Dispatcher) runProcessor(ctx context.Context, processor plugin.Processor, item orderdomain.OrderItem) (message, traceback string) {
	defer func() {
		if r := recover(); r != nil {
			message = fmt.Sprintf("%v", r)
			traceback = string(debug.Stack())
			d.log.Error("processor panicked",
				zap.String("order_item_id", item.ID.String()),
				zap.String("panic", message),
			)
		}
	}()

	if err := processor(ctx, item); err != nil {
		return err.Error(), ""
	}
	return "", ""
}
