package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"splitbill/cmd/identity"
	"splitbill/cmd/security/password"
	"splitbill/cmd/security/token"
)

func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) SessionOutcome(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[op+"/"+outcome]++
}

func (o *countingObserver) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

type fixture struct {
	svc      *Service
	accounts *identity.MemoryStore
	refresh  *MemoryStore
	cfg      Config
	obs      *countingObserver
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	cfg := testPasetoConfig(t)
	codec, err := NewAccessTokenCodec(cfg)
	require.NoError(t, err)

	f := fixture{
		accounts: identity.NewMemoryStore(),
		refresh:  NewMemoryStore(),
		cfg:      cfg,
		obs:      &countingObserver{},
	}
	all := append([]Option{WithPasswordConfig(fastPasswords()), WithObserver(f.obs)}, opts...)
	f.svc, err = NewService(cfg, f.accounts, f.refresh, codec, all...)
	require.NoError(t, err)
	return f
}

func (f fixture) register(t *testing.T, email, pw, guestID string, now time.Time) Issued {
	t.Helper()

	out, err := f.svc.Register(context.Background(), RegisterInput{
		Email:          email,
		Password:       pw,
		GuestAccountID: guestID,
	}, now)
	require.NoError(t, err)
	return out
}

func TestNewService_NilDependency(t *testing.T) {
	_, err := NewService(DefaultConfig(), nil, NewMemoryStore(), nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestCreateGuestSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)
	require.True(t, out.IsGuest)
	require.NotEmpty(t, out.AccessToken)
	require.NotEmpty(t, out.RefreshToken)
	require.Equal(t, now.Add(15*time.Minute), out.AccessExp)
	require.Equal(t, now.Add(7*24*time.Hour), out.RefreshExp)

	require.Equal(t, 1, f.accounts.Len())
	recs := f.refresh.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, out.AccountID, recs[0].AccountID)
	require.Equal(t, token.HashSHA256Hex(out.RefreshToken), recs[0].Fingerprint)
	require.NotEqual(t, out.RefreshToken, recs[0].Fingerprint)

	claims, err := f.svc.Authenticate(ctx, out.AccessToken, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, out.AccountID, claims.AccountID)
	require.True(t, claims.IsGuest)

	require.Equal(t, 1, f.obs.get("guest/ok"))
}

func TestRefresh_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, first.AccountID, second.AccountID)
	require.True(t, second.IsGuest)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.True(t, IsUnauthorized(err))

	third, err := f.svc.Refresh(ctx, second.RefreshToken, now.Add(3*time.Minute))
	require.NoError(t, err)
	require.Equal(t, first.AccountID, third.AccountID)
	require.Len(t, f.refresh.Snapshot(), 1)

	require.Equal(t, 1, f.obs.get("refresh/unauthorized"))
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	later := now.Add(f.cfg.RefreshTokenTTL + time.Second)
	_, err = f.svc.Refresh(ctx, out.RefreshToken, later)
	require.ErrorIs(t, err, ErrSessionExpired)

	// The failed presentation consumed the record.
	_, err = f.svc.Refresh(ctx, out.RefreshToken, later)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "never-issued", string(make([]byte, maxRefreshTokenLen+1))} {
		_, err := f.svc.Refresh(ctx, raw, time.Now())
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	const n = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		notFound atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(ctx, out.RefreshToken, now.Add(time.Second))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSessionNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, n-1, notFound.Load())
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, out.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, out.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, ""))
	require.NoError(t, f.svc.Logout(ctx, "unknown"))
	require.Empty(t, f.refresh.Snapshot())

	_, err = f.svc.Refresh(ctx, out.RefreshToken, now.Add(time.Second))
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Access tokens stay valid until their own expiry.
	_, err = f.svc.Authenticate(ctx, out.AccessToken, now.Add(time.Second))
	require.NoError(t, err)
}

func TestRegister_UpgradePreservesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	guest, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)
	other, err := f.svc.Refresh(ctx, guest.RefreshToken, now.Add(time.Second))
	require.NoError(t, err)

	reg := f.register(t, "  Ana@Example.COM ", "a-good-password", guest.AccountID, now.Add(2*time.Second))
	require.Equal(t, guest.AccountID, reg.AccountID)
	require.False(t, reg.IsGuest)
	require.Equal(t, 1, f.accounts.Len())

	// Every pre-registration refresh token is gone.
	_, err = f.svc.Refresh(ctx, other.RefreshToken, now.Add(3*time.Second))
	require.ErrorIs(t, err, ErrSessionNotFound)

	acct, err := f.svc.ValidateCredentials(ctx, "ana@example.com", "a-good-password")
	require.NoError(t, err)
	require.Equal(t, guest.AccountID, acct.ID)
	require.False(t, acct.IsGuest)

	// The old guest access token still verifies, but the account is now registered.
	cur, claims, err := f.svc.CurrentAccount(ctx, guest.AccessToken, now.Add(3*time.Second))
	require.NoError(t, err)
	require.True(t, claims.IsGuest)
	require.False(t, cur.IsGuest)
}

func TestRegister_NewAccountWithoutGuest(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	reg := f.register(t, "new@example.com", "a-good-password", "", now)
	require.False(t, reg.IsGuest)
	require.Equal(t, 1, f.accounts.Len())
	require.Len(t, f.refresh.Snapshot(), 1)
}

func TestRegister_UnknownGuestCreatesNew(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	reg := f.register(t, "new@example.com", "a-good-password", testAccountID, now)
	require.NotEqual(t, testAccountID, reg.AccountID)
	require.False(t, reg.IsGuest)
}

func TestRegister_RejectsRegisteredTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reg := f.register(t, "first@example.com", "a-good-password", "", now)

	_, err := f.svc.Register(ctx, RegisterInput{
		Email:          "second@example.com",
		Password:       "a-good-password",
		GuestAccountID: reg.AccountID,
	}, now)
	require.ErrorIs(t, err, ErrNotGuest)
	require.True(t, IsBadRequest(err))
}

func TestRegister_EmailUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.register(t, "dup@example.com", "a-good-password", "", now)

	guest, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{
		Email:          "DUP@example.com",
		Password:       "another-password",
		GuestAccountID: guest.AccountID,
	}, now)
	require.ErrorIs(t, err, ErrEmailTaken)
	require.True(t, IsConflict(err))
	require.Equal(t, 1, f.obs.get("register/conflict"))

	// The guest is untouched and its session survives.
	_, err = f.svc.Refresh(ctx, guest.RefreshToken, now.Add(time.Second))
	require.NoError(t, err)
}

func TestRegister_InputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "a-good-password"}, time.Now())
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "short"}, time.Now())
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.ErrorIs(t, err, password.ErrPasswordTooShort)

	require.Equal(t, 0, f.accounts.Len())
}

func TestRegister_RevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	guest, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	// A second record for the same account, as from another device.
	require.NoError(t, f.refresh.Create(ctx, Record{
		Fingerprint: token.HashSHA256Hex("other-device"),
		AccountID:   guest.AccountID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}))

	reg := f.register(t, "ana@example.com", "a-good-password", guest.AccountID, now)

	recs := f.refresh.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, token.HashSHA256Hex(reg.RefreshToken), recs[0].Fingerprint)
}

func TestValidateCredentials_GuestsNeverMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guest, err := f.svc.CreateGuestSession(ctx, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, guest.AccountID)

	for _, tc := range []struct{ email, pw string }{
		{"", ""},
		{"nobody@example.com", "whatever-password"},
		{"not-an-email", "whatever-password"},
	} {
		_, err := f.svc.ValidateCredentials(ctx, tc.email, tc.pw)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestValidateCredentials_WrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "ana@example.com", "a-good-password", "", time.Now())

	_, err := f.svc.ValidateCredentials(ctx, "ana@example.com", "a-wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_IssuesAdditionalSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reg := f.register(t, "ana@example.com", "a-good-password", "", now)

	acct, err := f.svc.ValidateCredentials(ctx, "ana@example.com", "a-good-password")
	require.NoError(t, err)

	out, err := f.svc.Login(ctx, acct.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, reg.AccountID, out.AccountID)
	require.False(t, out.IsGuest)

	// Login leaves other sessions intact.
	require.Len(t, f.refresh.Snapshot(), 2)
	_, err = f.svc.Refresh(ctx, reg.RefreshToken, now.Add(2*time.Minute))
	require.NoError(t, err)
}

func TestLogin_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), testAccountID, time.Now())
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCurrentAccount_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.CurrentAccount(context.Background(), "v4.public.garbage", time.Now())
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)
	_, err = f.svc.CreateGuestSession(ctx, now.Add(time.Hour))
	require.NoError(t, err)

	n, err := f.svc.PurgeExpired(ctx, now.Add(f.cfg.RefreshTokenTTL))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Len(t, f.refresh.Snapshot(), 1)
}

func TestIssue_CollisionBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var calls atomic.Int32
	f.svc.newOpaque = func(int) (string, error) {
		calls.Add(1)
		return "always-the-same", nil
	}

	_, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	_, err = f.svc.CreateGuestSession(ctx, now)
	require.ErrorIs(t, err, token.ErrExhausted)
	require.EqualValues(t, 1+f.cfg.IssueAttempts, calls.Load())
	require.Equal(t, 1, f.obs.get("guest/error"))
}

// racyStore hides existing records from Exists so collisions surface at Create.
type racyStore struct {
	*MemoryStore
}

func (racyStore) Exists(context.Context, string) (bool, error) { return false, nil }

func TestIssue_CollisionAtInsertConsumesBudget(t *testing.T) {
	cfg := testPasetoConfig(t)
	codec, err := NewAccessTokenCodec(cfg)
	require.NoError(t, err)

	store := racyStore{NewMemoryStore()}
	svc, err := NewService(cfg, identity.NewMemoryStore(), store, codec, WithPasswordConfig(fastPasswords()))
	require.NoError(t, err)

	seq := []string{"taken", "taken", "fresh"}
	var i int
	svc.newOpaque = func(int) (string, error) {
		v := seq[i%len(seq)]
		i++
		return v, nil
	}

	ctx := context.Background()
	first, err := svc.CreateGuestSession(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, "taken", first.RefreshToken)

	second, err := svc.CreateGuestSession(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, "fresh", second.RefreshToken)
}

func TestWithFingerprinter_Peppered(t *testing.T) {
	pepper := []byte("0123456789abcdef0123456789abcdef")
	f := newFixture(t, WithFingerprinter(token.NewFingerprinter(pepper)))
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := f.svc.CreateGuestSession(ctx, now)
	require.NoError(t, err)

	recs := f.refresh.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, token.HashHMACSHA256Hex(out.RefreshToken, pepper), recs[0].Fingerprint)

	_, err = f.svc.Refresh(ctx, out.RefreshToken, now.Add(time.Second))
	require.NoError(t, err)
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "unauthorized", Outcome(ErrSessionExpired))
	require.Equal(t, "conflict", Outcome(ErrEmailTaken))
	require.Equal(t, "bad_request", Outcome(ErrInvalidEmail))
	require.Equal(t, "error", Outcome(errors.New("boom")))
}
