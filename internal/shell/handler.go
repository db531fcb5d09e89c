package shell

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/auth"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/booking"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

// Handler exposes shells over HTTP.
type Handler struct {
	shells *Manager
	cars   *cars.Service
	log    *logrus.Entry
}

func NewHandler(m *Manager) *Handler {
	return &Handler{shells: m, cars: m.deps.Cars, log: logs.For("shell-http")}
}

// Routes returns the /shells router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Mount)

	r.Route("/{sid}", func(r chi.Router) {
		r.Delete("/", h.Unmount)
		r.Get("/me", h.Me)
		r.Get("/ws", h.HandleWS)
		r.Post("/signout", h.SignOut)
		r.Post("/refresh", h.Refresh)

		r.Post("/auth", h.OpenAuth)
		r.Route("/auth/{fid}", func(r chi.Router) {
			r.Get("/", h.withFlow(func(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
				writeJSON(w, http.StatusOK, f.View())
			}))
			r.Delete("/", h.CloseAuth)
			r.Post("/tab", h.withFlow(h.SelectTab))
			r.Post("/login", h.withFlow(h.Login))
			r.Post("/signup", h.withFlow(h.Signup))
			r.Post("/forgot", h.withFlow(h.ForgotPassword))
			r.Post("/oauth", h.withFlow(h.StartOAuth))
			r.Post("/otp", h.withFlow(h.SendOtp))
			r.Post("/otp/resend", h.withFlow(h.ResendOtp))
			r.Post("/otp/verify", h.withFlow(h.VerifyOtp))
		})

		r.Get("/cars/{id}", h.CarDetails)

		r.Post("/bookings", h.OpenBooking)
		r.Route("/bookings/{bid}", func(r chi.Router) {
			r.Get("/", h.withWizard(func(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
				writeJSON(w, http.StatusOK, wz.View())
			}))
			r.Delete("/", h.CloseBooking)
			r.Put("/details", h.withWizard(h.SetDetails))
			r.Put("/dates", h.withWizard(h.SetDates))
			r.Post("/next", h.withWizard(h.Next))
			r.Post("/back", h.withWizard(h.Back))
			r.Post("/confirm", h.withWizard(h.Confirm))
		})

		r.Get("/dashboard", h.Dashboard)
		r.Get("/history", h.History)
		r.Put("/profile", h.UpdateProfile)

		r.Get("/fleet", h.Fleet)
		r.Post("/fleet", h.AddCar)
		r.Put("/fleet/{id}", h.EditCar)
		r.Put("/fleet/{id}/availability", h.SetAvailability)

		r.Post("/admin/users/{uid}/roles/{role}", h.GrantRole)
		r.Delete("/admin/users/{uid}/roles/{role}", h.RevokeRole)
	})
	return r
}

// CarRoutes returns the public /cars router.
func (h *Handler) CarRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListCars)
	return r
}

func (h *Handler) shell(w http.ResponseWriter, r *http.Request) (*Shell, bool) {
	s, err := h.shells.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) withFlow(fn func(http.ResponseWriter, *http.Request, *auth.Flow)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.shell(w, r)
		if !ok {
			return
		}
		f, err := s.Auth(chi.URLParam(r, "fid"))
		if err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, f)
	}
}

func (h *Handler) withWizard(fn func(http.ResponseWriter, *http.Request, *booking.Wizard)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.shell(w, r)
		if !ok {
			return
		}
		wz, err := s.Booking(chi.URLParam(r, "bid"))
		if err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, wz)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	return true
}

// ── shell lifecycle ──

func (h *Handler) Mount(w http.ResponseWriter, r *http.Request) {
	var req MountRequest
	if !decode(w, r, &req) {
		return
	}
	s := h.shells.Mount(r.Context(), req)
	writeJSON(w, http.StatusCreated, map[string]any{
		"shell_id":  s.ID,
		"device_id": s.DeviceID,
		"me":        s.Me(r.Context()),
	})
}

func (h *Handler) Unmount(w http.ResponseWriter, r *http.Request) {
	h.shells.Unmount(chi.URLParam(r, "sid"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Me(r.Context()))
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	if err := s.SignOut(r.Context()); err != nil {
		h.log.WithError(err).Warn("sign out")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Me(r.Context()))
}

// ── auth modal ──

type tabRequest struct {
	Tab auth.State `json:"tab"`
}

func (h *Handler) OpenAuth(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	var req tabRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusCreated, s.OpenAuth(req.Tab).View())
}

func (h *Handler) CloseAuth(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	s.CloseAuth(chi.URLParam(r, "fid"))
	w.WriteHeader(http.StatusNoContent)
}

// flowResult writes the flow view, or the error with the view alongside.
func flowResult(w http.ResponseWriter, f *auth.Flow, err error) {
	if err != nil {
		status, msg := statusFor(err)
		writeJSON(w, status, map[string]any{"error": msg, "flow": f.View()})
		return
	}
	writeJSON(w, http.StatusOK, f.View())
}

func (h *Handler) SelectTab(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req tabRequest
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.SelectTab(req.Tab))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req auth.LoginInput
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.Login(r.Context(), req))
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req auth.SignupInput
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.Signup(r.Context(), req))
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.ForgotPassword(r.Context(), req.Email))
}

func (h *Handler) StartOAuth(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req struct {
		Provider string `json:"provider"`
		Role     string `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, err := f.StartOAuth(r.Context(), req.Provider, req.Role)
	if err != nil {
		flowResult(w, f, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (h *Handler) SendOtp(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req auth.OtpInput
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.SendOtp(r.Context(), req))
}

func (h *Handler) ResendOtp(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	flowResult(w, f, f.ResendOtp(r.Context()))
}

func (h *Handler) VerifyOtp(w http.ResponseWriter, r *http.Request, f *auth.Flow) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	flowResult(w, f, f.VerifyOtp(r.Context(), req.Code))
}

// ── cars ──

func (h *Handler) ListCars(w http.ResponseWriter, r *http.Request) {
	var f cars.Filter
	f.Category = r.URL.Query().Get("category")
	if v := r.URL.Query().Get("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid available"})
			return
		}
		f.Available = &b
	}
	list, err := h.cars.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": list})
}

func (h *Handler) CarDetails(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	c, err := h.cars.Details(r.Context(), chi.URLParam(r, "id"), s.Viewer(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ── booking wizard ──

func (h *Handler) OpenBooking(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	var req struct {
		CarID string `json:"car_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	wz, err := s.OpenBooking(r.Context(), req.CarID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wz.View())
}

func (h *Handler) CloseBooking(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	s.CloseBooking(chi.URLParam(r, "bid"))
	w.WriteHeader(http.StatusNoContent)
}

func wizardResult(w http.ResponseWriter, wz *booking.Wizard, err error) {
	if err != nil {
		status, msg := statusFor(err)
		writeJSON(w, status, map[string]any{"error": msg, "booking": wz.View()})
		return
	}
	writeJSON(w, http.StatusOK, wz.View())
}

func (h *Handler) SetDetails(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
	var req booking.RenterDetails
	if !decode(w, r, &req) {
		return
	}
	wizardResult(w, wz, wz.SetDetails(req))
}

func (h *Handler) SetDates(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
	var req booking.DateRange
	if !decode(w, r, &req) {
		return
	}
	wizardResult(w, wz, wz.SetDates(req))
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
	wizardResult(w, wz, wz.Next())
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
	wizardResult(w, wz, wz.Back())
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request, wz *booking.Wizard) {
	co, err := wz.Confirm(r.Context())
	if err != nil {
		wizardResult(w, wz, err)
		return
	}
	if s, err := h.shells.Get(chi.URLParam(r, "sid")); err == nil {
		s.CloseBooking(wz.ID())
	}
	writeJSON(w, http.StatusCreated, co)
}

// ── dashboard ──

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	u := s.CurrentUser()
	if u == nil {
		writeError(w, identity.ErrNoSession)
		return
	}
	d, err := s.deps.Dashboard.For(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	u := s.CurrentUser()
	if u == nil {
		writeError(w, identity.ErrNoSession)
		return
	}
	hist, err := s.deps.Dashboard.History(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

type profileRequest struct {
	FullName string `json:"full_name"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.UpdateProfile(r.Context(), req.FullName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ── fleet ──

func (h *Handler) withOwner(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	s, ok := h.shell(w, r)
	if !ok {
		return nil, false
	}
	u, err := s.RequireOwner(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return u, true
}

func (h *Handler) Fleet(w http.ResponseWriter, r *http.Request) {
	u, ok := h.withOwner(w, r)
	if !ok {
		return
	}
	list, err := h.cars.Fleet(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": list})
}

func (h *Handler) AddCar(w http.ResponseWriter, r *http.Request) {
	u, ok := h.withOwner(w, r)
	if !ok {
		return
	}
	var l cars.Listing
	if !decode(w, r, &l) {
		return
	}
	c, err := h.cars.Create(r.Context(), u.ID, l)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) EditCar(w http.ResponseWriter, r *http.Request) {
	u, ok := h.withOwner(w, r)
	if !ok {
		return
	}
	var l cars.Listing
	if !decode(w, r, &l) {
		return
	}
	c, err := h.cars.Update(r.Context(), u.ID, chi.URLParam(r, "id"), l)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	u, ok := h.withOwner(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.cars.SetAvailable(r.Context(), u.ID, chi.URLParam(r, "id"), req.Available)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ── admin ──

func (h *Handler) roleChange(w http.ResponseWriter, r *http.Request, grant bool) {
	s, ok := h.shell(w, r)
	if !ok {
		return
	}
	admin, err := s.RequireAdmin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	role, err := roles.Parse(chi.URLParam(r, "role"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	uid := chi.URLParam(r, "uid")
	if grant {
		err = s.deps.Roles.Grant(r.Context(), uid, role)
	} else {
		err = s.deps.Roles.Revoke(r.Context(), uid, role)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.WithFields(logrus.Fields{"admin_id": admin.ID, "user_id": uid, "role": role, "grant": grant}).Info("role changed")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request)  { h.roleChange(w, r, true) }
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) { h.roleChange(w, r, false) }

// ── responses ──

// statusFor maps an error to a status and the message shown to the user.
// Unrecognized errors are reported generically.
func statusFor(err error) (int, string) {
	var (
		authValidation    *auth.ValidationError
		bookingValidation *booking.ValidationError
		carValidation     *cars.ValidationError
		mismatch          *auth.RoleMismatchError
		provider          *auth.ProviderError
	)
	switch {
	case errors.As(err, &authValidation), errors.As(err, &bookingValidation), errors.As(err, &carValidation):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &mismatch), errors.Is(err, ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &provider):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrQuotaExceeded), errors.Is(err, auth.ErrCooldown):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, auth.ErrQuotaUnavailable), errors.Is(err, roles.ErrStore):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, auth.ErrBusy), errors.Is(err, booking.ErrBusy),
		errors.Is(err, auth.ErrInvalidTransition), errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, cars.ErrUnavailable):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrClosed), errors.Is(err, booking.ErrClosed):
		return http.StatusGone, err.Error()
	case errors.Is(err, booking.ErrAuthRequired), errors.Is(err, identity.ErrNoSession):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, booking.ErrBookingFailed):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, ErrNoShell), errors.Is(err, ErrNoFlow), errors.Is(err, ErrNoWizard), errors.Is(err, cars.ErrNotFound):
		return http.StatusNotFound, err.Error()
	}
	logs.For("shell-http").WithError(err).Error("unhandled error")
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
