package roles

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/events"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/kafka"
)

// ErrStore is returned by Grant and Revoke when the backing store failed.
var ErrStore = errors.New("role store unavailable")

// Resolver answers role questions for an identity. Store failures are
// logged and read as "no privilege".
type Resolver struct {
	store  Store
	events events.Publisher
	log    *logrus.Entry
}

// NewResolver creates a resolver. pub may be nil.
func NewResolver(store Store, pub events.Publisher) *Resolver {
	return &Resolver{store: store, events: pub, log: logs.For("roles")}
}

// ListRoles returns the user's roles, or none on any store error.
func (r *Resolver) ListRoles(ctx context.Context, userID string) []Role {
	set, err := r.store.List(ctx, userID)
	if err != nil {
		r.log.WithError(err).WithField("user_id", userID).Error("fetching user roles")
		return nil
	}
	return set
}

// HasRole reports whether the user holds role. Errors read as false.
func (r *Resolver) HasRole(ctx context.Context, userID string, role Role) bool {
	ok, err := r.store.Exists(ctx, userID, role)
	if err != nil {
		r.log.WithError(err).WithField("user_id", userID).Error("checking user role")
		return false
	}
	return ok
}

// PrimaryRole is the highest priority role the user holds.
func (r *Resolver) PrimaryRole(ctx context.Context, userID string) Role {
	return PrimaryOf(r.ListRoles(ctx, userID))
}

// Grant adds role to the user. Who may grant what is enforced by the caller
// and the store; the resolver does not check privileges.
func (r *Resolver) Grant(ctx context.Context, userID string, role Role) error {
	if err := r.store.Insert(ctx, userID, role); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "role": role}).Error("adding user role")
		return ErrStore
	}
	r.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("role granted")
	if r.events != nil {
		ev := events.RoleGrantedEvent{
			UserID:    userID,
			Role:      string(role),
			Source:    "grant",
			GrantedAt: time.Now().UTC().Format(time.RFC3339),
		}
		go func() {
			if err := r.events.Publish(context.Background(), kafka.TopicRoleGranted, userID, ev); err != nil {
				r.log.WithError(err).Warn("failed to publish role.granted")
			}
		}()
	}
	return nil
}

// Revoke removes role from the user.
func (r *Resolver) Revoke(ctx context.Context, userID string, role Role) error {
	if err := r.store.Delete(ctx, userID, role); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "role": role}).Error("removing user role")
		return ErrStore
	}
	return nil
}
