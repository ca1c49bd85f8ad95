package resource

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/stackbay/agora/internal/eventbus"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	"github.com/stackbay/agora/internal/resource/service"
)

// TopicBackendMetadata is published when a backend reports fresh facts
// about a resource. Backend reporters drive this topic from outside the
// ordering pipeline, so no in-tree code publishes to it.
const TopicBackendMetadata = "resource.backend_metadata"

func registerSubscriptions(bus *eventbus.Bus, svc resourcedomain.Service) {
	bus.Subscribe(TopicBackendMetadata, func(ctx context.Context, ev eventbus.Event) error {
		raw, _ := ev.Payload["resource_id"].(string)
		resourceID, err := snowflake.ParseString(raw)
		if err != nil {
			return err
		}
		metadata, _ := ev.Payload["metadata"].(map[string]any)
		return svc.UpdateBackendMetadata(ctx, resourceID, metadata)
	})
}

var Module = fx.Module("resource.service",
	fx.Provide(service.NewService),
	fx.Invoke(registerSubscriptions),
)
