package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"splitbill/cmd/identity"
	"splitbill/cmd/security/password"
	"splitbill/cmd/security/token"
)

// Observer receives one event per session operation outcome.
// *obs.Metrics satisfies it.
type Observer interface {
	SessionOutcome(op, outcome string)
}

type noopObserver struct{}

func (noopObserver) SessionOutcome(string, string) {}

// Service implements the session state machine:
// Anonymous -> Guest-Active -> Registered-Active, with refresh and logout in either active state.
//
// It owns the lifecycle of refresh records exclusively; accounts are owned by
// the identity store and only mutated through it.
type Service struct {
	cfg       Config
	tokens    AccessTokenCodec
	refresh   RefreshStore
	accounts  identity.Store
	passwords password.Config
	fp        token.Fingerprinter

	log     *slog.Logger
	metrics Observer

	newOpaque func(n int) (string, error)

	dummyOnce sync.Once
	dummyHash string
}

// Issued is the result of issuing or rotating a session.
// The refresh token is shown to the client exactly once and never logged.
type Issued struct {
	AccountID    string
	IsGuest      bool
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// RegisterInput carries a registration or guest upgrade request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName *string

	// GuestAccountID, when it resolves to a guest, is upgraded in place.
	GuestAccountID string
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver records per-operation outcomes (e.g. Prometheus counters).
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.metrics = o
		}
	}
}

// WithFingerprinter overrides the keyless SHA-256 fingerprinter.
func WithFingerprinter(f token.Fingerprinter) Option {
	return func(s *Service) { s.fp = f }
}

// WithPasswordConfig overrides password policy and hashing cost.
func WithPasswordConfig(c password.Config) Option {
	return func(s *Service) { s.passwords = c }
}

// NewService constructs a Service.
func NewService(cfg Config, accounts identity.Store, refresh RefreshStore, tokens AccessTokenCodec, opts ...Option) (*Service, error) {
	if accounts == nil || refresh == nil || tokens == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrConfig)
	}
	if cfg.IssueAttempts <= 0 {
		cfg.IssueAttempts = DefaultConfig().IssueAttempts
	}

	s := &Service{
		cfg:       cfg,
		tokens:    tokens,
		refresh:   refresh,
		accounts:  accounts,
		passwords: password.DefaultConfig(),
		log:       slog.Default(),
		metrics:   noopObserver{},
		newOpaque: token.NewOpaque,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateGuestSession creates a credential-less account and a token pair for it.
func (s *Service) CreateGuestSession(ctx context.Context, now time.Time) (out Issued, err error) {
	defer s.observe("guest", &err)

	acct, err := s.accounts.CreateGuest(ctx, identity.CreateGuestInput{Now: now})
	if err != nil {
		s.log.Error("session.guest.create.fail", "err", err)
		return Issued{}, err
	}

	out, err = s.issue(ctx, acct, now)
	if err != nil {
		return Issued{}, err
	}
	s.log.Info("session.guest.ok", "account_id", acct.ID)
	return out, nil
}

// Register creates a registered account, or upgrades the guest named by
// in.GuestAccountID in place. Every refresh record the resulting account held
// before is deleted, then a new pair is issued.
func (s *Service) Register(ctx context.Context, in RegisterInput, now time.Time) (out Issued, err error) {
	defer s.observe("register", &err)

	email := strings.TrimSpace(in.Email)
	if verr := identity.ValidateEmail(email); verr != nil {
		return Issued{}, fmt.Errorf("%w: %w", ErrInvalidEmail, verr)
	}
	if perr := s.passwords.Validate(in.Password); perr != nil {
		return Issued{}, fmt.Errorf("%w: %w", ErrInvalidPassword, perr)
	}

	target, err := s.resolveUpgradeTarget(ctx, in.GuestAccountID)
	if err != nil {
		return Issued{}, err
	}

	// Pre-check; the store re-checks (and its unique index decides) at write time.
	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if target == nil || existing.ID != target.ID {
			return Issued{}, ErrEmailTaken
		}
	case identity.IsNotFound(err):
	default:
		return Issued{}, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if password.IsPolicyViolation(err) {
			return Issued{}, fmt.Errorf("%w: %w", ErrInvalidPassword, err)
		}
		return Issued{}, err
	}

	var acct identity.Account
	upgraded := false
	if target != nil {
		acct, err = s.accounts.UpgradeGuest(ctx, identity.UpgradeGuestInput{
			ID:           target.ID,
			Email:        email,
			PasswordHash: hash,
			DisplayName:  in.DisplayName,
			Now:          now,
		})
		upgraded = err == nil
		if identity.IsNotFound(err) {
			// The guest vanished between lookup and write; fall through to a new account.
			target = nil
		}
	}
	if target == nil {
		acct, err = s.accounts.CreateRegistered(ctx, identity.CreateRegisteredInput{
			Email:        email,
			PasswordHash: hash,
			DisplayName:  in.DisplayName,
			Now:          now,
		})
	}
	if err != nil {
		return Issued{}, mapIdentityWriteErr(err)
	}

	revoked, err := s.refresh.DeleteAllForAccount(ctx, acct.ID)
	if err != nil {
		s.log.Error("session.register.revoke_all.fail", "err", err, "account_id", acct.ID)
		return Issued{}, err
	}

	out, err = s.issue(ctx, acct, now)
	if err != nil {
		return Issued{}, err
	}
	s.log.Info("session.register.ok",
		"account_id", acct.ID,
		"upgraded", upgraded,
		"revoked_sessions", revoked,
	)
	return out, nil
}

// resolveUpgradeTarget returns the guest to upgrade, nil when id is empty or
// unknown, or ErrNotGuest when it names a registered account.
func (s *Service) resolveUpgradeTarget(ctx context.Context, id string) (*identity.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return nil, nil
		}
		return nil, err
	}
	if !acct.IsGuest {
		return nil, ErrNotGuest
	}
	return &acct, nil
}

func mapIdentityWriteErr(err error) error {
	switch {
	case identity.IsConflict(err):
		return ErrEmailTaken
	case identity.IsNotGuest(err):
		return ErrNotGuest
	case identity.IsInvalidInput(err):
		return fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	default:
		return err
	}
}

// ValidateCredentials resolves the registered account for email/password.
// Guests never match. Unknown emails still pay for one hash verification.
func (s *Service) ValidateCredentials(ctx context.Context, email, pw string) (acct identity.Account, err error) {
	defer s.observe("validate_credentials", &err)

	acct, err = s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			s.burnVerify(pw)
			return identity.Account{}, ErrInvalidCredentials
		}
		return identity.Account{}, err
	}
	if acct.IsGuest || acct.PasswordHash == nil {
		s.burnVerify(pw)
		return identity.Account{}, ErrInvalidCredentials
	}

	ok, err := s.passwords.Verify(*acct.PasswordHash, pw)
	if err != nil {
		s.log.Error("session.credentials.hash_invalid", "err", err, "account_id", acct.ID)
		return identity.Account{}, fmt.Errorf("session: verify credentials: %w", err)
	}
	if !ok {
		return identity.Account{}, ErrInvalidCredentials
	}
	if s.passwords.NeedsRehash(*acct.PasswordHash) {
		s.log.Info("session.credentials.rehash_due", "account_id", acct.ID)
	}
	return acct, nil
}

// burnVerify runs a verification against a fixed hash for timing resistance.
func (s *Service) burnVerify(pw string) {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash("dummy-password-for-timing-only")
		if err != nil {
			s.log.Warn("session.credentials.dummy_hash.fail", "err", err)
			return
		}
		s.dummyHash = h
	})
	if s.dummyHash != "" {
		_, _ = s.passwords.Verify(s.dummyHash, pw)
	}
}

// Login issues a pair for an account whose credentials were already validated.
// Other sessions of the account are left intact.
func (s *Service) Login(ctx context.Context, accountID string, now time.Time) (out Issued, err error) {
	defer s.observe("login", &err)

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return Issued{}, ErrAccountNotFound
		}
		return Issued{}, err
	}

	out, err = s.issue(ctx, acct, now)
	if err != nil {
		return Issued{}, err
	}
	s.touch(ctx, acct.ID, now)
	s.log.Info("session.login.ok", "account_id", acct.ID)
	return out, nil
}

// Refresh consumes raw and issues a replacement pair.
//
//   - unknown (never issued, rotated, or logged out) -> ErrSessionNotFound
//   - expired -> ErrSessionExpired; the record is gone either way
//   - otherwise a new pair for the same account, guest flag re-read from the store
//
// Concurrent refreshes of the same token have exactly one winner.
func (s *Service) Refresh(ctx context.Context, raw string, now time.Time) (out Issued, err error) {
	defer s.observe("refresh", &err)

	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return Issued{}, ErrSessionNotFound
	}

	rec, err := s.refresh.Consume(ctx, s.fp.Fingerprint(raw))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.log.Warn("session.refresh.unknown_token")
		}
		return Issued{}, err
	}
	if rec.Expired(now) {
		s.log.Info("session.refresh.expired", "account_id", rec.AccountID)
		return Issued{}, ErrSessionExpired
	}

	acct, err := s.accounts.GetByID(ctx, rec.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Issued{}, ErrAccountNotFound
		}
		return Issued{}, err
	}

	out, err = s.issue(ctx, acct, now)
	if err != nil {
		return Issued{}, err
	}
	s.touch(ctx, acct.ID, now)
	return out, nil
}

// Logout deletes the record for raw if any. Empty or unknown tokens are a no-op.
// The access token is not revoked; it runs out on its own TTL.
func (s *Service) Logout(ctx context.Context, raw string) (err error) {
	defer s.observe("logout", &err)

	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return nil
	}
	return s.refresh.Delete(ctx, s.fp.Fingerprint(raw))
}

// Authenticate verifies an access token without touching storage.
func (s *Service) Authenticate(_ context.Context, accessToken string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(accessToken, now)
}

// CurrentAccount verifies the access token and loads the account. The returned
// account's IsGuest is authoritative; the claim may predate an upgrade.
func (s *Service) CurrentAccount(ctx context.Context, accessToken string, now time.Time) (identity.Account, AccessClaims, error) {
	claims, err := s.tokens.Verify(accessToken, now)
	if err != nil {
		return identity.Account{}, AccessClaims{}, err
	}

	acct, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Account{}, AccessClaims{}, ErrAccountNotFound
		}
		return identity.Account{}, AccessClaims{}, err
	}
	s.touch(ctx, acct.ID, now)
	return acct, claims, nil
}

// PurgeExpired removes refresh records past their expiry.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (n int64, err error) {
	defer s.observe("purge", &err)

	n, err = s.refresh.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("session.purge.ok", "deleted", n)
	}
	return n, nil
}

// ---- helpers ----

func (s *Service) issue(ctx context.Context, acct identity.Account, now time.Time) (Issued, error) {
	access, accessExp, err := s.tokens.Issue(acct.ID, acct.IsGuest, now)
	if err != nil {
		return Issued{}, err
	}

	raw, refreshExp, err := s.issueRefresh(ctx, acct.ID, now)
	if err != nil {
		s.log.Error("session.issue.refresh.fail", "err", err, "account_id", acct.ID)
		return Issued{}, err
	}

	return Issued{
		AccountID:    acct.ID,
		IsGuest:      acct.IsGuest,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: raw,
		RefreshExp:   refreshExp,
	}, nil
}

// touch is best-effort activity tracking.
func (s *Service) touch(ctx context.Context, id string, now time.Time) {
	if err := s.accounts.Touch(ctx, id, now); err != nil {
		s.log.Warn("session.touch.fail", "err", err, "account_id", id)
	}
}

func (s *Service) observe(op string, errp *error) {
	s.metrics.SessionOutcome(op, Outcome(*errp))
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsConflict(err):
		return "conflict"
	case IsBadRequest(err):
		return "bad_request"
	default:
		return "error"
	}
}
