// Package roster owns companies, their employees and the restaurants they
// may order from. Every change queues the matching company event.
package roster

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
)

type Service struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	now    func() time.Time
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{repo: repo, outbox: outboxRepo, now: time.Now}
}

func (s *Service) CreateCompany(ctx context.Context, name, providerRef string) (storage.Company, error) {
	var c storage.Company
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		c, err = s.repo.CreateCompany(ctx, tx, name, providerRef)
		return err
	})
	return c, err
}

func (s *Service) GetCompany(ctx context.Context, id string) (storage.Company, error) {
	return s.repo.GetCompany(ctx, id)
}

func (s *Service) ListEmployees(ctx context.Context, companyID string) ([]storage.Employee, error) {
	return s.repo.ListEmployees(ctx, companyID)
}

func (s *Service) AddEmployee(ctx context.Context, companyID, userID, email string) (bool, error) {
	var added bool
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		added, err = s.AddEmployeeTx(ctx, tx, companyID, userID, email)
		return err
	})
	return added, err
}

// AddEmployeeTx adds the user inside tx and emits company.employee_added when
// the roster changed.
func (s *Service) AddEmployeeTx(ctx context.Context, tx pgx.Tx, companyID, userID, email string) (bool, error) {
	added, err := s.repo.AddEmployee(ctx, tx, storage.Employee{CompanyID: companyID, UserID: userID, Email: email})
	if err != nil || !added {
		return added, err
	}
	evt, err := outbox.NewEvent(events.TopicMembership, "company", companyID, events.EmployeeAdded, events.EmployeeV1{
		CompanyID:  companyID,
		UserID:     userID,
		Email:      email,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return false, err
	}
	return true, s.outbox.Insert(ctx, tx, evt)
}

func (s *Service) RemoveEmployee(ctx context.Context, companyID, userID string) error {
	return s.repo.InTx(ctx, func(tx pgx.Tx) error {
		e, err := s.repo.RemoveEmployee(ctx, tx, companyID, userID)
		if err != nil {
			return err
		}
		evt, err := outbox.NewEvent(events.TopicMembership, "company", companyID, events.EmployeeRemoved, events.EmployeeV1{
			CompanyID:  companyID,
			UserID:     userID,
			Email:      e.Email,
			OccurredAt: s.now().UTC(),
		})
		if err != nil {
			return err
		}
		return s.outbox.Insert(ctx, tx, evt)
	})
}

// ListAllowedRestaurants returns the list nearest first.
func (s *Service) ListAllowedRestaurants(ctx context.Context, companyID string) ([]storage.AllowedRestaurant, error) {
	list, err := s.repo.ListAllowedRestaurants(ctx, companyID)
	if err != nil {
		return nil, err
	}
	entitlement.SortByDistance(list, func(a storage.AllowedRestaurant) *float64 { return a.DistanceKM })
	return list, nil
}

func (s *Service) ReplaceAllowedRestaurants(ctx context.Context, companyID string, list []storage.AllowedRestaurant) error {
	return s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.ReplaceAllowedRestaurants(ctx, tx, companyID, list); err != nil {
			return err
		}
		payload := events.AllowedRestaurantsV1{
			CompanyID:   companyID,
			Restaurants: make([]events.AllowedRestaurantV1, 0, len(list)),
			OccurredAt:  s.now().UTC(),
		}
		for _, a := range list {
			payload.Restaurants = append(payload.Restaurants, events.AllowedRestaurantV1{RestaurantID: a.RestaurantID, DistanceKM: a.DistanceKM})
		}
		evt, err := outbox.NewEvent(events.TopicMembership, "company", companyID, events.RestaurantsAllowed, payload)
		if err != nil {
			return err
		}
		return s.outbox.Insert(ctx, tx, evt)
	})
}
