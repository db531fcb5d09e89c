package shell

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
)

// Manager owns every mounted shell.
type Manager struct {
	deps Deps
	idle time.Duration
	log  *logrus.Entry

	mu     sync.Mutex
	shells map[string]*Shell
}

func NewManager(deps Deps, idle time.Duration) *Manager {
	return &Manager{
		deps:   deps,
		idle:   idle,
		log:    logs.For("shells"),
		shells: make(map[string]*Shell),
	}
}

// Mount creates and starts a shell.
func (m *Manager) Mount(ctx context.Context, req MountRequest) *Shell {
	s := newShell(&m.deps, req.DeviceID)
	s.mount(ctx, req)

	m.mu.Lock()
	m.shells[s.ID] = s
	n := len(m.shells)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"shell_id": s.ID, "device_id": s.DeviceID, "mounted": n}).Debug("shell mounted")
	return s
}

// Get returns a mounted shell and marks it as in use.
func (m *Manager) Get(id string) (*Shell, error) {
	m.mu.Lock()
	s, ok := m.shells[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoShell
	}
	s.touch()
	return s, nil
}

// Unmount stops a shell. Unknown ids are ignored.
func (m *Manager) Unmount(id string) {
	m.mu.Lock()
	s, ok := m.shells[id]
	delete(m.shells, id)
	m.mu.Unlock()
	if ok {
		s.close()
		m.log.WithField("shell_id", id).Debug("shell unmounted")
	}
}

// Run evicts idle shells until ctx is done, then unmounts the rest.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case now := <-ticker.C:
			m.evict(now)
		}
	}
}

func (m *Manager) evict(now time.Time) int {
	m.mu.Lock()
	var stale []*Shell
	for id, s := range m.shells {
		if now.Sub(s.idleSince()) > m.idle {
			stale = append(stale, s)
			delete(m.shells, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.close()
	}
	if len(stale) > 0 {
		m.log.WithField("count", len(stale)).Info("evicted idle shells")
	}
	return len(stale)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.shells
	m.shells = make(map[string]*Shell)
	m.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
