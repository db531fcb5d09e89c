package identity

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

// Handler exposes the provider's browser facing endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the identity service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router for the /auth/v1 mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/authorize", h.Authorize)
	r.Get("/authorize/confirm", h.ConfirmAuthorize)
	r.Get("/verify", h.Verify)
	r.Post("/recover", h.Recover)
	return r
}

// Authorize starts a built-in OAuth consent for the email in login_hint.
// The code is only issued once the mailed consent link is followed.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.svc.RequestConsent(r.Context(), ConsentRequest{
		Provider:    q.Get("provider"),
		Email:       q.Get("login_hint"),
		RedirectURL: q.Get("redirect_to"),
		State:       q.Get("state"),
	})
	switch {
	case errors.Is(err, ErrUnsupportedOAuth), errors.Is(err, ErrInvalidRedirect), errors.Is(err, ErrInvalidLoginHint):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not start consent"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "consent_sent"})
	}
}

// ConfirmAuthorize redeems a consent link and sends the browser back with a
// code and the echoed state.
func (h *Handler) ConfirmAuthorize(w http.ResponseWriter, r *http.Request) {
	back, err := h.svc.ConfirmConsent(r.Context(), r.URL.Query().Get("token"))
	switch {
	case errors.Is(err, ErrOtpInvalid), errors.Is(err, ErrInvalidRedirect):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not issue code"})
	default:
		http.Redirect(w, r, back, http.StatusFound)
	}
}

// Verify consumes an email confirmation link.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Confirm(r.Context(), r.URL.Query().Get("token")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrOtpInvalid) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if to := r.URL.Query().Get("redirect_to"); to != "" && h.svc.checkRedirect(to) == nil {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

type recoverRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Recover sets a new password from a recovery link token.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if msg := validation.PasswordProblem(req.Password); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrOtpInvalid) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
