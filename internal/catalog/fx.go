package catalog

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	"github.com/stackbay/agora/internal/catalog/service"
	"github.com/stackbay/agora/internal/eventbus"
)

// TopicSettingsRemoved is published when the backend settings behind an
// offering are deleted. The offering is archived in response. The event
// comes from the administration surface that manages backend settings,
// nothing in the ordering pipeline publishes it.
const TopicSettingsRemoved = "catalog.settings_removed"

func registerSubscriptions(bus *eventbus.Bus, svc catalogdomain.Service, log *zap.Logger) {
	bus.Subscribe(TopicSettingsRemoved, func(ctx context.Context, ev eventbus.Event) error {
		raw, _ := ev.Payload["offering_id"].(string)
		offeringID, err := snowflake.ParseString(raw)
		if err != nil {
			return err
		}

		if err := svc.TransitionOffering(ctx, offeringID, catalogdomain.OfferingStateArchived); err != nil {
			return err
		}
		log.Info("offering archived after settings removal",
			zap.String("offering_id", offeringID.String()),
		)
		return nil
	})
}

var Module = fx.Module("catalog.service",
	fx.Provide(service.NewService),
	fx.Invoke(registerSubscriptions),
)
