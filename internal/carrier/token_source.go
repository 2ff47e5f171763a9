package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const defaultTokenTTL = 5 * 24 * time.Hour

// TokenSource owns the carrier access token lifecycle: it serves a cached,
// non-expired token and refreshes via the carrier login endpoint when the
// cache and the stored token are both stale. Concurrent refreshes collapse
// into a single login call under a singleflight guard.
type TokenSource struct {
	baseURL  string
	email    string
	password string
	ttl      time.Duration
	client   *http.Client
	tokens   repositories.CarrierTokenRepository
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	cached domain.CarrierToken
}

// TokenSourceDeps enumerates the collaborators required by NewTokenSource.
type TokenSourceDeps struct {
	BaseURL  string
	Email    string
	Password string
	TTL      time.Duration
	Client   *http.Client
	Tokens   repositories.CarrierTokenRepository
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewTokenSource validates dependencies and constructs the token source.
func NewTokenSource(deps TokenSourceDeps) (*TokenSource, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("carrier token source requires base url")
	}
	if strings.TrimSpace(deps.Email) == "" || deps.Password == "" {
		return nil, errors.New("carrier token source requires credentials")
	}
	if deps.Tokens == nil {
		return nil, errors.New("carrier token source requires token repository")
	}

	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TokenSource{
		baseURL:  baseURL,
		email:    strings.TrimSpace(deps.Email),
		password: deps.Password,
		ttl:      ttl,
		client:   client,
		tokens:   deps.Tokens,
		logger:   logger,
		now:      clock,
	}, nil
}

// Token returns a non-expired carrier access token, refreshing when needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if s == nil {
		return "", errors.New("carrier token source not initialised")
	}

	now := s.now()
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached.Token != "" && !cached.Expired(now) {
		return cached.Token, nil
	}

	result, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx, false)
	})
	if err != nil {
		return "", err
	}
	return result.(domain.CarrierToken).Token, nil
}

// Invalidate drops the cached token so the next call re-checks the store and
// logs in if necessary. Called when the carrier rejects a request as
// unauthorized.
func (s *TokenSource) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cached = domain.CarrierToken{}
	s.mu.Unlock()
}

// Refresh forces a new login regardless of the stored token's age. Exposed
// for the operator token-rotation endpoint.
func (s *TokenSource) Refresh(ctx context.Context) (domain.CarrierToken, error) {
	if s == nil {
		return domain.CarrierToken{}, errors.New("carrier token source not initialised")
	}
	result, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx, true)
	})
	if err != nil {
		return domain.CarrierToken{}, err
	}
	return result.(domain.CarrierToken), nil
}

func (s *TokenSource) refresh(ctx context.Context, force bool) (domain.CarrierToken, error) {
	now := s.now()

	if !force {
		stored, err := s.tokens.Latest(ctx)
		if err == nil && !stored.Expired(now) {
			s.mu.Lock()
			s.cached = stored
			s.mu.Unlock()
			return stored, nil
		}
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return domain.CarrierToken{}, err
			}
		}
	}

	fresh, err := s.login(ctx, now)
	if err != nil {
		return domain.CarrierToken{}, err
	}
	if err := s.tokens.Replace(ctx, fresh); err != nil {
		return domain.CarrierToken{}, fmt.Errorf("store carrier token: %w", err)
	}

	s.mu.Lock()
	s.cached = fresh
	s.mu.Unlock()

	s.logger.Info("carrier token refreshed",
		zap.String("email", fresh.Email),
		zap.Time("expires_at", fresh.ExpiresAt),
	)
	return fresh, nil
}

func (s *TokenSource) login(ctx context.Context, now time.Time) (domain.CarrierToken, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    s.email,
		"password": s.password,
	})
	if err != nil {
		return domain.CarrierToken{}, fmt.Errorf("encode carrier login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return domain.CarrierToken{}, fmt.Errorf("build carrier login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.CarrierToken{}, fmt.Errorf("carrier login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.CarrierToken{}, fmt.Errorf("read carrier login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.CarrierToken{}, &Error{
			StatusCode: resp.StatusCode,
			Message:    "carrier login rejected",
			Body:       string(body),
		}
	}

	var decoded struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.CarrierToken{}, fmt.Errorf("decode carrier login response: %w", err)
	}
	if strings.TrimSpace(decoded.Token) == "" {
		return domain.CarrierToken{}, errors.New("carrier login returned empty token")
	}

	return domain.CarrierToken{
		ID:        ulid.Make().String(),
		Token:     decoded.Token,
		Email:     decoded.Email,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(s.ttl),
	}, nil
}
