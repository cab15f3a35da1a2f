package auth

import (
	"context"
	"testing"
	"time"

	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atrium-hq/atrium/internal/shared"
)

type memoryAccountRepo struct {
	accounts map[string]*Account
	nextID   int64
}

func (r *memoryAccountRepo) FindOrCreateByEmail(ctx context.Context, email string) (Account, error) {
	if r.accounts == nil {
		r.accounts = make(map[string]*Account)
	}
	if a, ok := r.accounts[email]; ok {
		return *a, nil
	}
	r.nextID++
	a := &Account{ID: r.nextID, Email: email, IsActive: true}
	r.accounts[email] = a
	return *a, nil
}

type captureMailer struct {
	email string
	code  string
	sent  int
}

func (m *captureMailer) SendLoginCode(ctx context.Context, email, code string) error {
	m.email = email
	m.code = code
	m.sent++
	return nil
}

func newAuthService(t *testing.T) (*Service, *captureMailer, *memoryAccountRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryAccountRepo{}
	mailer := &captureMailer{}
	svc := NewService(repo, client, mailer, slog.Default(), 10*time.Minute, 3)
	return svc, mailer, repo, mr
}

func TestRequestAndVerifyCode(t *testing.T) {
	svc, mailer, repo, _ := newAuthService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "  User@Example.COM "))
	require.Equal(t, "user@example.com", mailer.email)
	require.Len(t, mailer.code, 6)

	account, err := svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", account.Email)
	require.NotZero(t, account.ID)
	require.Len(t, repo.accounts, 1)

	// The code is single use.
	_, err = svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.ErrorIs(t, err, shared.ErrCodeExpired)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	svc, mailer, _, _ := newAuthService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))

	wrong := "000000"
	if wrong == mailer.code {
		wrong = "000001"
	}
	_, err := svc.VerifyCode(ctx, "user@example.com", wrong)
	require.ErrorIs(t, err, shared.ErrInvalidCode)

	// The right code still works after one miss.
	_, err = svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.NoError(t, err)
}

func TestVerifyCodeTooManyAttempts(t *testing.T) {
	svc, mailer, _, _ := newAuthService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))

	wrong := "000000"
	if wrong == mailer.code {
		wrong = "000001"
	}
	for i := 0; i < 2; i++ {
		_, err := svc.VerifyCode(ctx, "user@example.com", wrong)
		require.ErrorIs(t, err, shared.ErrInvalidCode)
	}
	_, err := svc.VerifyCode(ctx, "user@example.com", wrong)
	require.ErrorIs(t, err, shared.ErrTooManyAttempts)

	// The burnt code no longer works even when correct.
	_, err = svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.ErrorIs(t, err, shared.ErrTooManyAttempts)
}

func TestVerifyCodeDisabledAccount(t *testing.T) {
	svc, mailer, repo, _ := newAuthService(t)
	ctx := context.Background()

	repo.accounts = map[string]*Account{
		"user@example.com": {ID: 7, Email: "user@example.com", IsActive: false},
	}
	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))

	_, err := svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestVerifyCodeExpired(t *testing.T) {
	svc, mailer, _, mr := newAuthService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))
	mr.FastForward(11 * time.Minute)

	_, err := svc.VerifyCode(ctx, "user@example.com", mailer.code)
	require.ErrorIs(t, err, shared.ErrCodeExpired)
}

func TestVerifyCodeNoRequest(t *testing.T) {
	svc, _, _, _ := newAuthService(t)

	_, err := svc.VerifyCode(context.Background(), "user@example.com", "123456")
	require.ErrorIs(t, err, shared.ErrCodeExpired)
}

func TestRequestCodeReplacesPrevious(t *testing.T) {
	svc, mailer, _, _ := newAuthService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))
	first := mailer.code
	require.NoError(t, svc.RequestCode(ctx, "user@example.com"))
	second := mailer.code
	require.Equal(t, 2, mailer.sent)

	if first != second {
		_, err := svc.VerifyCode(ctx, "user@example.com", first)
		require.ErrorIs(t, err, shared.ErrInvalidCode)
	}
	_, err := svc.VerifyCode(ctx, "user@example.com", second)
	require.NoError(t, err)
}
