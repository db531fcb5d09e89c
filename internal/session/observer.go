package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
)

// Observer keeps the current identity of one application instance. It is the
// only thing consumers ask "who is logged in". Create one per shell, Start it
// on mount and Stop it on unmount.
type Observer struct {
	provider identity.Provider
	log      *logrus.Entry

	mu       sync.Mutex
	user     *identity.User
	started  bool
	stopped  bool
	seen     bool // an event arrived after subscribing
	unsub    func()
	nextID   int
	watchers map[int]func(*identity.User)
}

func NewObserver(p identity.Provider) *Observer {
	return &Observer{
		provider: p,
		log:      logs.For("session"),
		watchers: make(map[int]func(*identity.User)),
	}
}

// Start subscribes to auth events, then reconciles with the provider's
// current session. An event that arrives before the reconcile answer wins.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	unsub := o.provider.OnAuthStateChange(o.handle)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		unsub()
		return nil
	}
	o.unsub = unsub
	o.mu.Unlock()

	s, err := o.provider.CurrentSession(ctx)
	if err != nil {
		o.log.WithError(err).Warn("reconciling current session")
	}

	o.mu.Lock()
	if o.seen || o.stopped {
		o.mu.Unlock()
		return err
	}
	var u *identity.User
	if s != nil {
		cp := s.User
		u = &cp
	}
	changed := !sameUser(o.user, u)
	o.user = u
	o.mu.Unlock()

	if changed {
		o.notify(u)
	}
	return err
}

// Stop unsubscribes. It is safe to call more than once.
func (o *Observer) Stop() {
	o.mu.Lock()
	o.stopped = true
	unsub := o.unsub
	o.unsub = nil
	o.watchers = make(map[int]func(*identity.User))
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (o *Observer) handle(ev identity.AuthEvent) {
	var u *identity.User
	switch ev.Type {
	case identity.SignedIn, identity.TokenRefreshed, identity.UserUpdated:
		if ev.Session != nil {
			cp := ev.Session.User
			u = &cp
		}
	case identity.SignedOut:
	default:
		return
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.seen = true
	changed := ev.Type == identity.UserUpdated || !sameUser(o.user, u)
	o.user = u
	o.mu.Unlock()

	if changed {
		o.notify(u)
	}
}

// Current returns a copy of the current user, or nil when signed out.
func (o *Observer) Current() *identity.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.user == nil {
		return nil
	}
	cp := *o.user
	return &cp
}

// Watch calls fn after every change of the current user until cancel.
func (o *Observer) Watch(fn func(*identity.User)) (cancel func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.watchers[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.watchers, id)
		o.mu.Unlock()
	}
}

func (o *Observer) notify(u *identity.User) {
	o.mu.Lock()
	fns := make([]func(*identity.User), 0, len(o.watchers))
	for i := 0; i < o.nextID; i++ {
		if fn, ok := o.watchers[i]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func sameUser(a, b *identity.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
