package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := New(zap.NewNop())
	ctx := context.Background()

	var order []string
	bus.Subscribe("order.done", func(ctx context.Context, ev Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe("order.done", func(ctx context.Context, ev Event) error {
		order = append(order, "second")
		return nil
	})
	bus.Subscribe("order.erred", func(ctx context.Context, ev Event) error {
		order = append(order, "wrong topic")
		return nil
	})

	bus.Publish(ctx, Event{Topic: "order.done", Payload: map[string]any{"order_id": "42"}})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublishSurvivesHandlerErrors(t *testing.T) {
	bus := New(zap.NewNop())
	ctx := context.Background()

	delivered := false
	bus.Subscribe("usage.reported", func(ctx context.Context, ev Event) error {
		return errors.New("downstream unavailable")
	})
	bus.Subscribe("usage.reported", func(ctx context.Context, ev Event) error {
		delivered = true
		return nil
	})

	bus.Publish(ctx, Event{Topic: "usage.reported"})
	assert.True(t, delivered)
}

func TestPublishWithoutSubscribersIsANoop(t *testing.T) {
	bus := New(zap.NewNop())
	bus.Publish(context.Background(), Event{Topic: "ghost"})
}
