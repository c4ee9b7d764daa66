// Package asset issues short-lived download links for private thumbnails.
package asset

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"DropTracker/internal/domain"
	"DropTracker/internal/metrics"
	"DropTracker/internal/ports"
)

const (
	MinRenewalMargin  = 60 * time.Second
	DefaultTTL        = 300 * time.Second
	DefaultMaxTTL     = time.Hour
	minimumSignedSpan = time.Second
)

// Options tune lease renewal and link lifetimes.
type Options struct {
	RenewalMargin time.Duration
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Authorizer caches the upstream lease and signs per-key links with it.
// The cached lease is swapped atomically; two callers racing on an expired
// lease may both refresh, and the later result wins.
type Authorizer struct {
	upstream ports.AssetUpstream
	lease    atomic.Pointer[domain.AuthorizationLease]

	margin     time.Duration
	defaultTTL time.Duration
	maxTTL     time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewAuthorizer builds an Authorizer over upstream.
func NewAuthorizer(upstream ports.AssetUpstream, opts Options) *Authorizer {
	a := &Authorizer{
		upstream:   upstream,
		margin:     opts.RenewalMargin,
		defaultTTL: opts.DefaultTTL,
		maxTTL:     opts.MaxTTL,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if a.margin < MinRenewalMargin {
		a.margin = MinRenewalMargin
	}
	if a.defaultTTL <= 0 {
		a.defaultTTL = DefaultTTL
	}
	if a.maxTTL <= 0 {
		a.maxTTL = DefaultMaxTTL
	}
	if a.defaultTTL > a.maxTTL {
		a.defaultTTL = a.maxTTL
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// SignedURL returns a link granting read access to key alone. A zero ttl
// selects the default lifetime; longer requests are capped and positive
// requests under a second are rejected.
func (a *Authorizer) SignedURL(ctx context.Context, key string, ttl time.Duration) (domain.SignedURL, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return domain.SignedURL{}, err
	}
	ttl, err = a.boundTTL(ttl)
	if err != nil {
		return domain.SignedURL{}, err
	}

	lease, err := a.currentLease(ctx)
	if err != nil {
		a.metrics.SignedURLIssued(false)
		return domain.SignedURL{}, err
	}

	url, err := a.upstream.SignURL(ctx, *lease, key, ttl)
	if err == nil && url == "" {
		err = errors.New("upstream returned an empty link")
	}
	if err != nil {
		if errors.Is(err, ports.ErrLeaseRejected) {
			a.lease.CompareAndSwap(lease, nil)
		}
		a.metrics.SignedURLIssued(false)
		a.logger.Warn("sign asset url failed", zap.String("key", key), zap.Error(err))
		return domain.SignedURL{}, domain.NewError(domain.KindUpstreamAuthFailure, "could not sign asset link", err)
	}

	now := a.now()
	expires := now.Add(ttl)
	if lease.ExpiresAt.Before(expires) {
		expires = lease.ExpiresAt
	}

	a.metrics.SignedURLIssued(true)
	return domain.SignedURL{URL: url, Key: key, TTL: ttl, ExpiresAt: expires}, nil
}

// Warm refreshes the lease when it is missing or inside the renewal margin,
// so request paths rarely pay for authorization.
func (a *Authorizer) Warm(ctx context.Context) error {
	_, err := a.currentLease(ctx)
	return err
}

// RenewalMargin reports the effective margin.
func (a *Authorizer) RenewalMargin() time.Duration {
	return a.margin
}

// Invalidate drops the cached lease.
func (a *Authorizer) Invalidate() {
	a.lease.Store(nil)
}

func (a *Authorizer) currentLease(ctx context.Context) (*domain.AuthorizationLease, error) {
	now := a.now()
	if cached := a.lease.Load(); cached.Usable(now, a.margin) {
		return cached, nil
	}

	fresh, err := a.upstream.Authorize(ctx)
	if err != nil {
		a.metrics.LeaseRefreshed(false)
		a.logger.Error("asset store authorization failed", zap.Error(err))
		return nil, domain.NewError(domain.KindUpstreamAuthFailure, "asset store authorization failed", err)
	}
	if fresh.IssuedAt.IsZero() {
		fresh.IssuedAt = now
	}
	if !fresh.Usable(now, a.margin) {
		a.metrics.LeaseRefreshed(false)
		a.logger.Error("asset store issued an unusable lease",
			zap.Time("expires_at", fresh.ExpiresAt),
			zap.Duration("margin", a.margin))
		return nil, domain.NewError(domain.KindUpstreamAuthFailure, "asset store authorization failed", nil)
	}

	a.lease.Store(&fresh)
	a.metrics.LeaseRefreshed(true)
	a.logger.Info("asset store lease refreshed", zap.Time("expires_at", fresh.ExpiresAt))
	return &fresh, nil
}

func (a *Authorizer) boundTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, domain.NewError(domain.KindInvalidInput, "link lifetime must not be negative", nil)
	case ttl == 0:
		return a.defaultTTL, nil
	case ttl < minimumSignedSpan:
		return 0, domain.NewError(domain.KindInvalidInput, "link lifetime must be at least one second", nil)
	case ttl > a.maxTTL:
		return a.maxTTL, nil
	}
	return ttl, nil
}

// NormalizeKey validates an object key taken from a thumbnail reference.
// Absolute http(s) references predate private storage and are not signable.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(raw), "/")
	if key == "" {
		return "", domain.NewError(domain.KindInvalidInput, "asset key is required", nil)
	}

	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return "", domain.NewError(domain.KindInvalidInput, "asset reference is an absolute url, not a storage key", nil)
	}
	if strings.Contains(key, "\x00") || path.Clean("/"+key) != "/"+key {
		return "", domain.NewError(domain.KindInvalidInput, "asset key is not a clean object path", nil)
	}
	return key, nil
}
