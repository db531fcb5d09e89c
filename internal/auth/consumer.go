package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

// Granter adds a role to a user.
type Granter interface {
	Grant(ctx context.Context, userID string, role roles.Role) error
}

// Consumer materializes a pending role after sign-in completes. It reads
// every carrier at most once and grants at most one role per token.
type Consumer struct {
	provider identity.Provider
	tokens   *Tokens
	device   *DeviceStore
	roles    Granter
	deviceID string
	log      *logrus.Entry

	mu    sync.Mutex
	state string
}

func NewConsumer(p identity.Provider, tokens *Tokens, device *DeviceStore, g Granter, deviceID string) *Consumer {
	return &Consumer{
		provider: p,
		tokens:   tokens,
		device:   device,
		roles:    g,
		deviceID: deviceID,
		log:      logs.For("pending-role").WithField("device_id", deviceID),
	}
}

// SetReturnState records the opaque state an OAuth redirect came back with.
// It is read by the next SIGNED_IN event only.
func (c *Consumer) SetReturnState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Attach subscribes the consumer to p's auth events.
func (c *Consumer) Attach() (detach func()) {
	return c.provider.OnAuthStateChange(c.handle)
}

func (c *Consumer) handle(ev identity.AuthEvent) {
	if ev.Type != identity.SignedIn || ev.Session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Consume(ctx, ev.Session)
}

type candidate struct {
	source string
	raw    string
}

// Consume processes the pending role carriers for a fresh session.
func (c *Consumer) Consume(ctx context.Context, s *identity.Session) {
	log := c.log.WithField("user_id", s.User.ID)

	var found []candidate

	c.mu.Lock()
	if c.state != "" {
		found = append(found, candidate{"oauth_state", c.state})
		c.state = ""
	}
	c.mu.Unlock()

	if raw, ok, err := c.device.Take(ctx, c.deviceID); err != nil {
		log.WithError(err).Warn("reading device pending role")
	} else if ok {
		found = append(found, candidate{"device", raw})
	}

	if raw, ok := s.User.Metadata[MetadataKey]; ok {
		found = append(found, candidate{"metadata", raw})
		md := make(map[string]string, len(s.User.Metadata))
		for k, v := range s.User.Metadata {
			if k != MetadataKey {
				md[k] = v
			}
		}
		if _, err := c.provider.UpdateUser(ctx, md); err != nil {
			log.WithError(err).Warn("clearing metadata pending role")
		}
	}

	granted := false
	for _, cand := range found {
		l := log.WithField("source", cand.source)
		p, err := c.tokens.Decode(cand.raw)
		if err != nil {
			l.WithError(err).Info("discarding pending role")
			continue
		}
		if cand.source == "device" && !p.HeldFor(s.User) {
			l.WithField("role", p.Role).Info("discarding device pending role held for another contact")
			continue
		}
		if granted {
			l.WithField("role", p.Role).Info("discarding extra pending role")
			continue
		}
		fresh, err := c.device.Claim(ctx, p.ID)
		if err != nil {
			l.WithError(err).Warn("claiming pending role")
			continue
		}
		if !fresh {
			l.WithField("jti", p.ID).Debug("pending role already consumed")
			continue
		}
		if err := c.roles.Grant(ctx, s.User.ID, p.Role); err != nil {
			l.WithError(err).Error("granting pending role")
			continue
		}
		l.WithField("role", p.Role).Info("pending role granted")
		granted = true
	}
}
