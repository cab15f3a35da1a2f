package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-hq/atrium/internal/shared"
)

// ErrAccountDisabled is returned when a deactivated account verifies a code.
var ErrAccountDisabled = errors.New("auth: account disabled")

// Mailer delivers login codes. The worker implements it over the task queue
// so the request path never blocks on SMTP.
type Mailer interface {
	SendLoginCode(ctx context.Context, email, code string) error
}

// RepositoryPort defines data access for login.
type RepositoryPort interface {
	FindOrCreateByEmail(ctx context.Context, email string) (Account, error)
}

// Service implements passwordless email login. A short-lived one-time code
// is hashed into Redis; the plaintext only ever exists in the email.
type Service struct {
	repo        RepositoryPort
	redis       *redis.Client
	mailer      Mailer
	logger      *slog.Logger
	codeTTL     time.Duration
	maxAttempts int
}

type codeRecord struct {
	Hash     string `json:"hash"`
	Attempts int    `json:"attempts"`
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, rdb *redis.Client, mailer Mailer, logger *slog.Logger, codeTTL time.Duration, maxAttempts int) *Service {
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		repo:        repo,
		redis:       rdb,
		mailer:      mailer,
		logger:      logger,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
	}
}

// RequestCode issues a fresh login code for the email and queues the mail.
// Requesting again before the previous code expires replaces it.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate login code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash login code: %w", err)
	}
	payload, err := json.Marshal(codeRecord{Hash: string(hash)})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, codeKey(email), payload, s.codeTTL).Err(); err != nil {
		return fmt.Errorf("store login code: %w", err)
	}
	if err := s.mailer.SendLoginCode(ctx, email, code); err != nil {
		return fmt.Errorf("queue login mail: %w", err)
	}
	s.logger.Info("login code issued", slog.String("email", email))
	return nil
}

// VerifyCode checks a submitted code and returns the account on success.
// The code is single-use and burns after maxAttempts failures.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (Account, error) {
	email = normalizeEmail(email)
	key := codeKey(email)

	payload, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Account{}, shared.ErrCodeExpired
	}
	if err != nil {
		return Account{}, err
	}
	var record codeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return Account{}, err
	}
	if record.Attempts >= s.maxAttempts {
		return Account{}, shared.ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(record.Hash), []byte(code)) != nil {
		record.Attempts++
		if updated, err := json.Marshal(record); err == nil {
			s.redis.Set(ctx, key, updated, redis.KeepTTL)
		}
		if record.Attempts >= s.maxAttempts {
			return Account{}, shared.ErrTooManyAttempts
		}
		return Account{}, shared.ErrInvalidCode
	}

	if err := s.redis.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return Account{}, err
	}
	account, err := s.repo.FindOrCreateByEmail(ctx, email)
	if err != nil {
		return Account{}, err
	}
	if !account.IsActive {
		return Account{}, ErrAccountDisabled
	}
	s.logger.Info("login verified", slog.Int64("user_id", account.ID))
	return account, nil
}

func codeKey(email string) string {
	return "otp:" + email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateCode draws a six-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
