package migration

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/stackbay/agora/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, genID *snowflake.Node) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}
		return EnsureSystemRobot(conn, genID, cfg.SystemRobotUsername)
	}),
)
