package carrier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

type tokenRepoStub struct {
	mu     sync.Mutex
	stored *domain.CarrierToken

	latestCalls  int
	replaceCalls int
}

type notFoundErr struct{}

func (notFoundErr) Error() string       { return "not found" }
func (notFoundErr) IsNotFound() bool    { return true }
func (notFoundErr) IsConflict() bool    { return false }
func (notFoundErr) IsUnavailable() bool { return false }

func (s *tokenRepoStub) Latest(ctx context.Context) (domain.CarrierToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls++
	if s.stored == nil {
		return domain.CarrierToken{}, notFoundErr{}
	}
	return *s.stored, nil
}

func (s *tokenRepoStub) Replace(ctx context.Context, token domain.CarrierToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	s.stored = &token
	return nil
}

func newTestTokenSource(t *testing.T, repo *tokenRepoStub, logins *atomic.Int64, now time.Time) *TokenSource {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		logins.Add(1)
		w.Write([]byte(`{"token":"fresh-token","email":"ops@industrywaala.com"}`))
	}))
	t.Cleanup(server.Close)

	source, err := NewTokenSource(TokenSourceDeps{
		BaseURL:  server.URL,
		Email:    "ops@industrywaala.com",
		Password: "secret",
		TTL:      5 * 24 * time.Hour,
		Client:   server.Client(),
		Tokens:   repo,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	return source
}

func TestTokenReusesStoredToken(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	repo := &tokenRepoStub{stored: &domain.CarrierToken{
		ID:        "tok-1",
		Token:     "stored-token",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(24 * time.Hour),
	}}
	var logins atomic.Int64
	source := newTestTokenSource(t, repo, &logins, now)

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "stored-token" {
		t.Fatalf("token = %q", token)
	}
	if logins.Load() != 0 {
		t.Fatalf("logins = %d, want 0", logins.Load())
	}

	// Second call must hit the in-memory cache, not the store.
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if repo.latestCalls != 1 {
		t.Fatalf("latest calls = %d, want 1", repo.latestCalls)
	}
}

func TestTokenLogsInWhenStoredTokenExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	repo := &tokenRepoStub{stored: &domain.CarrierToken{
		ID:        "tok-1",
		Token:     "stale-token",
		CreatedAt: now.Add(-6 * 24 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour),
	}}
	var logins atomic.Int64
	source := newTestTokenSource(t, repo, &logins, now)

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "fresh-token" {
		t.Fatalf("token = %q", token)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}
	if repo.replaceCalls != 1 {
		t.Fatalf("replace calls = %d, want 1", repo.replaceCalls)
	}
	if repo.stored.ExpiresAt != now.Add(5*24*time.Hour) {
		t.Fatalf("expiry = %v", repo.stored.ExpiresAt)
	}
}

func TestConcurrentRefreshCollapsesToOneLogin(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	repo := &tokenRepoStub{}
	var logins atomic.Int64
	source := newTestTokenSource(t, repo, &logins, now)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := source.Token(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Token: %v", err)
	}

	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}
	if repo.replaceCalls != 1 {
		t.Fatalf("replace calls = %d, want 1", repo.replaceCalls)
	}
}

func TestInvalidateForcesStoreRecheck(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	repo := &tokenRepoStub{stored: &domain.CarrierToken{
		ID:        "tok-1",
		Token:     "stored-token",
		ExpiresAt: now.Add(24 * time.Hour),
	}}
	var logins atomic.Int64
	source := newTestTokenSource(t, repo, &logins, now)

	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	source.Invalidate()
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if repo.latestCalls != 2 {
		t.Fatalf("latest calls = %d, want 2", repo.latestCalls)
	}
}

func TestRefreshForcesLogin(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	repo := &tokenRepoStub{stored: &domain.CarrierToken{
		ID:        "tok-1",
		Token:     "stored-token",
		ExpiresAt: now.Add(24 * time.Hour),
	}}
	var logins atomic.Int64
	source := newTestTokenSource(t, repo, &logins, now)

	fresh, err := source.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh.Token != "fresh-token" {
		t.Fatalf("token = %q", fresh.Token)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}
	if repo.replaceCalls != 1 {
		t.Fatalf("replace calls = %d, want 1", repo.replaceCalls)
	}
}
