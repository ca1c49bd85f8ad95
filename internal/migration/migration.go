// Package migration creates the schema on startup so the service is
// usable out of the box for local and self-hosted environments.
package migration

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
	invoicingdomain "github.com/stackbay/agora/internal/invoicing/domain"
	orderdomain "github.com/stackbay/agora/internal/order/domain"
	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&structuredomain.Customer{},
		&structuredomain.Project{},
		&structuredomain.User{},
		&catalogdomain.Category{},
		&catalogdomain.CategoryComponent{},
		&catalogdomain.Offering{},
		&catalogdomain.OfferingComponent{},
		&catalogdomain.Plan{},
		&catalogdomain.PlanComponent{},
		&quotadomain.ComponentQuota{},
		&quotadomain.ComponentUsage{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&resourcedomain.Resource{},
		&resourcedomain.ResourcePlanPeriod{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceItem{},
		&invoicingdomain.CategoryComponentUsage{},
	}
}

// RunMigrations creates or updates every table.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(Models()...)
}

// EnsureSystemRobot creates the automated termination account when it
// does not exist yet.
func EnsureSystemRobot(db *gorm.DB, genID *snowflake.Node, username string) error {
	if username == "" {
		return nil
	}

	var count int64
	if err := db.Model(&structuredomain.User{}).
		Where("username = ?", username).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	robot := structuredomain.User{
		ID:       genID.Generate(),
		Username: username,
		FullName: "System Robot",
		IsStaff:  true,
		IsActive: true,
	}
	return db.Create(&robot).Error
}
