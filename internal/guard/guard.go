// Package guard authenticates API callers and enforces admission limits:
// API keys hashed at rest, short-lived bearer tokens minted from keys,
// per-key request rates, and a cap on concurrently running jobs.
package guard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/store"
)

// GuardConfig holds token, rate, and concurrency limits.
type GuardConfig struct {
	TokenTTL           time.Duration
	RateLimitPerMinute int
	MaxConcurrentJobs  int
}

// Principal is an authenticated API caller derived from a key or token.
type Principal struct {
	KeyID         string
	Label         string
	Scopes        []string
	RatePerMinute int
}

// HasScope reports whether the principal holds the scope. Admin keys hold
// every scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == domain.ScopeAdmin {
			return true
		}
	}
	return false
}

// Guard coordinates credential, scope, rate, and job-slot checks.
type Guard struct {
	KeyRepo *store.APIKeyRepo
	Audit   *store.AuditRepo
	Config  GuardConfig
	DB      *sql.DB

	secret []byte

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
	running    map[string]struct{}
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard with default repos. The secret signs bearer
// tokens; rate and job limits of zero or less disable the respective check.
func NewGuard(db *sql.DB, secret []byte, cfg GuardConfig) *Guard {
	return &Guard{
		KeyRepo:    &store.APIKeyRepo{},
		Audit:      &store.AuditRepo{},
		Config:     cfg,
		DB:         db,
		secret:     secret,
		rateCounts: make(map[string]*rateBucket),
		running:    make(map[string]struct{}),
	}
}

// CheckRequest runs all checks in order: credential, scope, rate limit.
// It short-circuits on the first error.
func (g *Guard) CheckRequest(ctx context.Context, r *http.Request, scope string) (*Principal, error) {
	p, err := g.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := g.RequireScope(ctx, p, scope); err != nil {
		return nil, err
	}
	if err := g.CheckRateLimit(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate resolves a request's credentials. Bearer tokens are checked
// first, then the X-API-Key header.
func (g *Guard) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return nil, domain.ErrUnauthorized
		}
		return g.VerifyToken(raw)
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return g.VerifyKey(ctx, k)
	}
	return nil, domain.ErrUnauthorized
}

// VerifyKey authenticates a raw API key secret against the stored hash.
func (g *Guard) VerifyKey(ctx context.Context, raw string) (*Principal, error) {
	key, err := g.KeyRepo.GetByHash(ctx, g.DB, HashKey(raw))
	if err != nil {
		return nil, err
	}
	if key.Disabled {
		g.audit(ctx, key.ID, "key_rejected", "key is disabled", "warning")
		return nil, domain.ErrKeyDisabled
	}
	return &Principal{
		KeyID:         key.ID,
		Label:         key.Label,
		Scopes:        key.Scopes,
		RatePerMinute: key.RatePerMinute,
	}, nil
}

// RequireScope checks that the principal holds the scope. Denials are audited.
func (g *Guard) RequireScope(ctx context.Context, p *Principal, scope string) error {
	if p.HasScope(scope) {
		return nil
	}
	g.audit(ctx, p.KeyID, "scope_denied", "missing scope: "+scope, "warning")
	return domain.NewEngineError(domain.ErrPermissionDenied.Code,
		fmt.Sprintf("scope %q required", scope))
}

// CheckRateLimit enforces a per-key rate limit over a fixed 60 second
// window. Keys without an override use the configured default.
func (g *Guard) CheckRateLimit(ctx context.Context, p *Principal) error {
	limit := p.RatePerMinute
	if limit <= 0 {
		limit = g.Config.RateLimitPerMinute
	}
	if limit <= 0 {
		return nil
	}
	if g.underLimit(p.KeyID, limit) {
		return nil
	}
	g.audit(ctx, p.KeyID, "rate_limited",
		fmt.Sprintf("over %d requests per minute", limit), "warning")
	return domain.ErrRateLimitExceeded
}

func (g *Guard) underLimit(keyID string, limit int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().Unix()
	bucket, ok := g.rateCounts[keyID]
	if !ok {
		g.rateCounts[keyID] = &rateBucket{count: 1, windowStart: now}
		return true
	}
	if now-bucket.windowStart > 60 {
		bucket.count = 1
		bucket.windowStart = now
		return true
	}
	if bucket.count >= limit {
		return false
	}
	bucket.count++
	return true
}

// AdmitJob reserves a concurrent-job slot for jobID. Reserving the same job
// twice is a no-op.
func (g *Guard) AdmitJob(ctx context.Context, jobID string) error {
	if g.reserve(jobID) {
		return nil
	}
	g.audit(ctx, jobID, "job_rejected", "concurrent job limit reached", "warning")
	return domain.ErrJobLimitReached
}

func (g *Guard) reserve(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.running[jobID]; ok {
		return true
	}
	if g.Config.MaxConcurrentJobs > 0 && len(g.running) >= g.Config.MaxConcurrentJobs {
		return false
	}
	g.running[jobID] = struct{}{}
	return true
}

// FinishJob returns jobID's slot.
func (g *Guard) FinishJob(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, jobID)
}

// RunningJobs reports the number of reserved job slots.
func (g *Guard) RunningJobs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// HashKey returns the hex SHA-256 digest stored for a raw key secret.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateKey mints a new API key and stores its hash. The raw secret is
// returned exactly once and never persisted. Empty scopes default to read
// and submit.
func (g *Guard) CreateKey(ctx context.Context, label string, scopes []string, ratePerMinute int) (*domain.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}
	raw := "ck_" + hex.EncodeToString(buf)

	if len(scopes) == 0 {
		scopes = []string{domain.ScopeRead, domain.ScopeSubmit}
	}
	key := domain.APIKey{
		ID:            "key-" + uuid.NewString(),
		Label:         label,
		Hash:          HashKey(raw),
		Scopes:        scopes,
		RatePerMinute: ratePerMinute,
		CreatedAtUnix: time.Now().Unix(),
	}
	if err := g.KeyRepo.Create(ctx, g.DB, key); err != nil {
		return nil, "", err
	}
	return &key, raw, nil
}

// RevokeKey disables a key. Disabled keys fail verification and cannot mint
// tokens; tokens already issued expire on their own.
func (g *Guard) RevokeKey(ctx context.Context, keyID string) error {
	if err := g.KeyRepo.SetDisabled(ctx, g.DB, keyID, true); err != nil {
		return err
	}
	g.audit(ctx, keyID, "key_revoked", "", "notice")
	return nil
}

func (g *Guard) audit(ctx context.Context, subject, action, detail, severity string) {
	now := time.Now()
	_ = g.Audit.Record(ctx, g.DB, domain.AuditRecord{
		ID:        fmt.Sprintf("aud-auth-%d", now.UnixNano()),
		Subject:   subject,
		Category:  "auth",
		Actor:     "guard",
		Action:    action,
		Detail:    detail,
		Severity:  severity,
		CreatedAt: now.Unix(),
	})
}
