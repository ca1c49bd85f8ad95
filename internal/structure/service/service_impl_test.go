package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackbay/agora/internal/clock"
	"github.com/stackbay/agora/internal/migration"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

func setupService(t *testing.T) (structuredomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := migration.RunMigrations(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})
	return svc, db, fc
}

func TestCreateCustomer(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	email := "billing@acme.example"
	customer, err := svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{
		Name:  "  Acme GmbH  ",
		Email: &email,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme GmbH", customer.Name)
	assert.Equal(t, "acme-gmbh", customer.Slug)
	assert.NotZero(t, customer.ID)

	_, err = svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "   "})
	assert.ErrorIs(t, err, structuredomain.ErrInvalidCustomer)
}

func TestCreateProject(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	customer, err := svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "Acme"})
	require.NoError(t, err)

	project, err := svc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID.String(),
		Name:       "Data Platform",
	})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, project.CustomerID)
	assert.Equal(t, "data-platform", project.Slug)

	tests := []struct {
		name    string
		req     structuredomain.CreateProjectRequest
		wantErr error
	}{
		{
			"bad customer id",
			structuredomain.CreateProjectRequest{CustomerID: "nope", Name: "x"},
			structuredomain.ErrInvalidCustomer,
		},
		{
			"blank name",
			structuredomain.CreateProjectRequest{CustomerID: customer.ID.String(), Name: " "},
			structuredomain.ErrInvalidProject,
		},
		{
			"unknown customer",
			structuredomain.CreateProjectRequest{CustomerID: snowflake.ID(999).String(), Name: "x"},
			structuredomain.ErrCustomerNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateProject(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListProjectsByCustomer(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "First"})
	require.NoError(t, err)
	second, err := svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "Second"})
	require.NoError(t, err)

	for _, name := range []string{"alpha", "beta"} {
		_, err := svc.CreateProject(ctx, structuredomain.CreateProjectRequest{
			CustomerID: first.ID.String(),
			Name:       name,
		})
		require.NoError(t, err)
	}
	_, err = svc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: second.ID.String(),
		Name:       "gamma",
	})
	require.NoError(t, err)

	projects, err := svc.ListProjects(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	customers, err := svc.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)
}

func TestExpiredProjects(t *testing.T) {
	svc, _, fc := setupService(t)
	ctx := context.Background()

	customer, err := svc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "Acme"})
	require.NoError(t, err)

	lastWeek := fc.Now().AddDate(0, 0, -7)
	// A project ending later today counts as expired from end of day.
	laterToday := time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)
	nextMonth := fc.Now().AddDate(0, 1, 0)

	for _, p := range []struct {
		name string
		end  *time.Time
	}{
		{"ended", &lastWeek},
		{"ending-today", &laterToday},
		{"running", &nextMonth},
		{"open-ended", nil},
	} {
		_, err := svc.CreateProject(ctx, structuredomain.CreateProjectRequest{
			CustomerID: customer.ID.String(),
			Name:       p.name,
			EndDate:    p.end,
		})
		require.NoError(t, err)
	}

	expired, err := svc.ExpiredProjects(ctx, fc.Now())
	require.NoError(t, err)

	names := make([]string, 0, len(expired))
	for _, p := range expired {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"ended", "ending-today"}, names)
}

func TestFindUserByUsername(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	user := structuredomain.User{
		ID:       node.Generate(),
		Username: "system_robot",
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)

	found, err := svc.FindUserByUsername(ctx, "system_robot")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = svc.FindUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, structuredomain.ErrUserNotFound)
}
