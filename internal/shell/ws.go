package shell

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket allows one concurrent writer; this enforces that.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *safeConn) close() { c.ws.Close() }

// userMessage is pushed on every current user change.
type userMessage struct {
	User *identity.User `json:"user"`
	Role roles.Role     `json:"role,omitempty"`
	TS   int64          `json:"ts"`
}

// HandleWS upgrades the connection and streams the shell's current user,
// starting with the user at connect time.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	s, err := h.shells.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade")
		return
	}
	conn := &safeConn{ws: ws}
	log := h.log.WithField("shell_id", s.ID)

	push := func(u *identity.User) {
		msg := userMessage{User: u, TS: time.Now().Unix()}
		if u != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			msg.Role = s.deps.Roles.PrimaryRole(ctx, u.ID)
			cancel()
		}
		if err := conn.writeJSON(msg); err != nil {
			log.WithError(err).Debug("ws write")
		}
	}

	cancel := s.Watch(push)
	push(s.CurrentUser())
	log.Debug("ws client connected")

	// Block until the client disconnects
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
		s.touch()
	}

	cancel()
	conn.close()
	log.Debug("ws client disconnected")
}
