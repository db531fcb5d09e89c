package cars

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

// Service serves car listings.
type Service struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, log: logs.For("cars"), now: time.Now}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Car, error) {
	return s.store.ListPublic(ctx, f)
}

func (s *Service) Get(ctx context.Context, id string) (*Car, error) {
	return s.store.Get(ctx, id)
}

// Details is Get plus the owner's contact when v may see it. Failing to
// decide or to load the contact leaves it out.
func (s *Service) Details(ctx context.Context, id string, v Viewer) (*Car, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.maySeeOwner(ctx, c, v) {
		o, err := s.store.OwnerContact(ctx, c.ID)
		if err != nil {
			s.log.WithError(err).WithField("car_id", c.ID).Warn("owner contact unavailable")
		}
		c.Owner = o
	}
	return c, nil
}

func (s *Service) maySeeOwner(ctx context.Context, c *Car, v Viewer) bool {
	switch {
	case v.UserID == "":
		return false
	case v.Role == roles.Admin, v.UserID == c.OwnerID:
		return true
	}
	ok, err := s.store.HasBooking(ctx, v.UserID, c.ID)
	if err != nil {
		s.log.WithError(err).WithField("car_id", c.ID).Warn("booking lookup failed")
		return false
	}
	return ok
}

// Create lists a new available car for ownerID with its contact details.
func (s *Service) Create(ctx context.Context, ownerID string, l Listing) (*Car, error) {
	l, err := ValidateListing(l, s.now())
	if err != nil {
		return nil, err
	}
	c, err := s.store.Create(ctx, ownerID, l)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"car_id": c.ID, "owner_id": ownerID}).Info("car listed")
	return c, nil
}

// Update rewrites one of ownerID's cars and its contact details.
func (s *Service) Update(ctx context.Context, ownerID, carID string, l Listing) (*Car, error) {
	l, err := ValidateListing(l, s.now())
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, ownerID, carID, l)
}

// SetAvailable lists or unlists one of ownerID's cars.
func (s *Service) SetAvailable(ctx context.Context, ownerID, carID string, available bool) (*Car, error) {
	return s.store.SetAvailable(ctx, ownerID, carID, available)
}

// Fleet is ownerID's cars, newest first, with booking totals.
func (s *Service) Fleet(ctx context.Context, ownerID string) ([]FleetCar, error) {
	return s.store.ListByOwner(ctx, ownerID)
}
