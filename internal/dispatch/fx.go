package dispatch

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	orderservice "github.com/stackbay/agora/internal/order/service"
	"github.com/stackbay/agora/internal/taskqueue"
)

func registerTaskHandlers(registry *taskqueue.Registry, dispatcher *Dispatcher) {
	registry.Register(orderservice.TaskProcessOrderItem, func(ctx context.Context, task taskqueue.Task) error {
		raw, _ := task.Payload["order_item_id"].(string)
		itemID, err := snowflake.ParseString(raw)
		if err != nil {
			return taskqueue.ErrInvalidEnvelope
		}
		return dispatcher.ProcessOrderItem(ctx, itemID)
	})
}

var Module = fx.Module("dispatch",
	fx.Provide(NewDispatcher),
	fx.Invoke(registerTaskHandlers),
)
