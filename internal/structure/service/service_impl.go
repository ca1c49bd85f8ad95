package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackbay/agora/internal/clock"
	structuredomain "github.com/stackbay/agora/internal/structure/domain"
	"github.com/stackbay/agora/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	customerRepo repository.Repository[structuredomain.Customer]
	projectRepo  repository.Repository[structuredomain.Project]
	userRepo     repository.Repository[structuredomain.User]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) structuredomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("structure.service"),

		genID: p.GenID,
		clock: p.Clock,

		customerRepo: repository.ProvideStore[structuredomain.Customer](p.DB),
		projectRepo:  repository.ProvideStore[structuredomain.Project](p.DB),
		userRepo:     repository.ProvideStore[structuredomain.User](p.DB),
	}
}

// CreateCustomer implements domain.Service.
func (s *Service) CreateCustomer(ctx context.Context, req structuredomain.CreateCustomerRequest) (structuredomain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return structuredomain.Customer{}, structuredomain.ErrInvalidCustomer
	}

	customer := structuredomain.Customer{
		ID:    s.genID.Generate(),
		Name:  name,
		Slug:  slug.Make(name),
		Email: req.Email,
	}
	if err := s.customerRepo.Create(ctx, &customer); err != nil {
		return structuredomain.Customer{}, err
	}

	return customer, nil
}

// CreateProject implements domain.Service.
func (s *Service) CreateProject(ctx context.Context, req structuredomain.CreateProjectRequest) (structuredomain.Project, error) {
	customerID, err := s.parseID(req.CustomerID, structuredomain.ErrInvalidCustomer)
	if err != nil {
		return structuredomain.Project{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return structuredomain.Project{}, structuredomain.ErrInvalidProject
	}

	customer, err := s.customerRepo.FindOne(ctx, &structuredomain.Customer{ID: customerID})
	if err != nil {
		return structuredomain.Project{}, err
	}
	if customer == nil {
		return structuredomain.Project{}, structuredomain.ErrCustomerNotFound
	}

	project := structuredomain.Project{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Name:       name,
		Slug:       slug.Make(name),
		EndDate:    req.EndDate,
	}
	if err := s.projectRepo.Create(ctx, &project); err != nil {
		return structuredomain.Project{}, err
	}

	return project, nil
}

// GetCustomer implements domain.Service.
func (s *Service) GetCustomer(ctx context.Context, id snowflake.ID) (structuredomain.Customer, error) {
	customer, err := s.customerRepo.FindOne(ctx, &structuredomain.Customer{ID: id})
	if err != nil {
		return structuredomain.Customer{}, err
	}
	if customer == nil {
		return structuredomain.Customer{}, structuredomain.ErrCustomerNotFound
	}
	return *customer, nil
}

// GetProject implements domain.Service.
func (s *Service) GetProject(ctx context.Context, id snowflake.ID) (structuredomain.Project, error) {
	project, err := s.projectRepo.FindOne(ctx, &structuredomain.Project{ID: id})
	if err != nil {
		return structuredomain.Project{}, err
	}
	if project == nil {
		return structuredomain.Project{}, structuredomain.ErrProjectNotFound
	}
	return *project, nil
}

// ListCustomers implements domain.Service.
func (s *Service) ListCustomers(ctx context.Context) ([]structuredomain.Customer, error) {
	rows, err := s.customerRepo.Find(ctx, &structuredomain.Customer{})
	if err != nil {
		return nil, err
	}
	customers := make([]structuredomain.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, *row)
	}
	return customers, nil
}

// ListProjects implements domain.Service.
func (s *Service) ListProjects(ctx context.Context, customerID snowflake.ID) ([]structuredomain.Project, error) {
	rows, err := s.projectRepo.Find(ctx, &structuredomain.Project{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	projects := make([]structuredomain.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, *row)
	}
	return projects, nil
}

// ExpiredProjects implements domain.Service.
func (s *Service) ExpiredProjects(ctx context.Context, now time.Time) ([]structuredomain.Project, error) {
	var projects []structuredomain.Project
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	err := s.db.WithContext(ctx).
		Where("end_date IS NOT NULL AND end_date <= ?", endOfDay).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// FindUserByUsername implements domain.Service.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (structuredomain.User, error) {
	user, err := s.userRepo.FindOne(ctx, &structuredomain.User{Username: username})
	if err != nil {
		return structuredomain.User{}, err
	}
	if user == nil {
		return structuredomain.User{}, structuredomain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
