package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"splitbill/cmd/internal/auth/session"
)

// RateObserver is notified when a request is throttled. *obs.Metrics satisfies it.
type RateObserver interface {
	RateLimited(path string)
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	limiter  *ipLimiter
	rate     RateObserver
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRateObserver records throttled requests.
func WithRateObserver(o RateObserver) HandlerOption {
	return func(h *Handler) { h.rate = o }
}

// WithClock overrides time.Now; intended for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(sessions *session.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}

	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		sessions: sessions,
		limiter:  newIPLimiter(cfg.RateLimitEvery, cfg.RateLimitBurst),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/guest", h.throttled(h.handleGuest))
	mux.HandleFunc("/auth/register", h.throttled(h.handleRegister))
	mux.HandleFunc("/auth/login", h.throttled(h.handleLogin))
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
}

// SweepLimiter drops idle rate-limit buckets; call periodically.
func (h *Handler) SweepLimiter(now time.Time) int {
	if h == nil {
		return 0
	}
	return h.limiter.sweep(now)
}

// ---- handlers ----

func (h *Handler) handleGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req guestRequest
	if !h.readBody(w, r, &req, true) {
		return
	}

	issued, err := h.sessions.CreateGuestSession(r.Context(), h.now())
	if err != nil {
		h.writeSessionError(w, "auth.guest", err)
		return
	}
	h.writeIssued(w, http.StatusCreated, issued, req.ReturnRefreshToken)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if !h.readBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()

	// A valid bearer token names the guest to upgrade. An invalid or expired one
	// is not an error here; registration proceeds as a fresh account.
	var guestID string
	if tok := bearerToken(r); tok != "" {
		claims, err := h.sessions.Authenticate(ctx, tok, now)
		switch {
		case err == nil:
			guestID = claims.AccountID
		default:
			h.log.Info("auth.register.bearer_ignored", "err", err)
		}
	}

	issued, err := h.sessions.Register(ctx, session.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		DisplayName:    req.DisplayName,
		GuestAccountID: guestID,
	}, now)
	if err != nil {
		h.writeSessionError(w, "auth.register", err)
		return
	}
	h.writeIssued(w, http.StatusCreated, issued, req.ReturnRefreshToken)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !h.readBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	acct, err := h.sessions.ValidateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if session.IsUnauthorized(err) {
			h.log.Info("auth.login.fail", "ip", limiterKey(clientIP(r, h.cfg.TrustProxy)))
		}
		h.writeSessionError(w, "auth.login", err)
		return
	}

	issued, err := h.sessions.Login(ctx, acct.ID, h.now())
	if err != nil {
		h.writeSessionError(w, "auth.login", err)
		return
	}
	h.writeIssued(w, http.StatusOK, issued, req.ReturnRefreshToken)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if !h.readBody(w, r, &req, true) {
		return
	}

	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		raw = h.refreshTokenFromCookie(r)
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "session_not_active", "missing refresh token")
		return
	}

	issued, err := h.sessions.Refresh(r.Context(), raw, h.now())
	if err != nil {
		if session.IsUnauthorized(err) {
			// The presented token is dead either way; stop the client from resending it.
			h.clearRefreshCookie(w)
		}
		h.writeSessionError(w, "auth.refresh", err)
		return
	}
	h.writeIssued(w, http.StatusOK, issued, req.ReturnRefreshToken)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req logoutRequest
	if !h.readBody(w, r, &req, true) {
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		raw = h.refreshTokenFromCookie(r)
	}

	if err := h.sessions.Logout(r.Context(), raw); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "account_id", claims.AccountID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.logout.ok", "account_id", claims.AccountID)
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	acct, _, err := h.sessions.CurrentAccount(r.Context(), tok, h.now())
	if err != nil {
		h.writeSessionError(w, "auth.me", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acct)})
}

// ---- helpers ----

func (h *Handler) writeIssued(w http.ResponseWriter, status int, issued session.Issued, includeRefresh bool) {
	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExp)
	writeJSON(w, status, toSessionResponse(issued, includeRefresh))
}

// writeSessionError maps session error classes onto HTTP statuses.
func (h *Handler) writeSessionError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, session.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, session.ErrNotGuest):
		writeError(w, http.StatusBadRequest, "not_guest", "account is already registered")
	case errors.Is(err, session.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email", "invalid email")
	case errors.Is(err, session.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, "invalid_password", "password does not meet policy")
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
	case session.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
	case session.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", "conflict")
	case session.IsBadRequest(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) throttled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, h.cfg.TrustProxy)
		if ok, retry := h.limiter.allow(limiterKey(ip), h.now()); !ok {
			if h.rate != nil {
				h.rate.RateLimited(r.URL.Path)
			}
			h.log.Warn("auth.rate_limited", "path", r.URL.Path, "ip", limiterKey(ip))
			writeRateLimited(w, retry)
			return
		}
		next(w, r)
	}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.Authenticate(r.Context(), token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
