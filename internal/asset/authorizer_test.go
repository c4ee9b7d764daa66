package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

type fakeUpstream struct {
	mu         sync.Mutex
	authorized int
	signed     []string
	lifetime   time.Duration
	clock      *fakeClock
	authErr    error
	signErr    error
}

func (f *fakeUpstream) Authorize(context.Context) (domain.AuthorizationLease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return domain.AuthorizationLease{}, f.authErr
	}
	f.authorized++
	now := f.clock.Now()
	return domain.AuthorizationLease{
		Token:     fmt.Sprintf("token-%d", f.authorized),
		IssuedAt:  now,
		ExpiresAt: now.Add(f.lifetime),
	}, nil
}

func (f *fakeUpstream) SignURL(_ context.Context, lease domain.AuthorizationLease, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signed = append(f.signed, key)
	return fmt.Sprintf("https://cdn.example/file/%s?auth=%s&ttl=%d", key, lease.Token, int(ttl.Seconds())), nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAuthorizer(lifetime time.Duration) (*Authorizer, *fakeUpstream, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)}
	up := &fakeUpstream{lifetime: lifetime, clock: clock}
	a := NewAuthorizer(up, Options{RenewalMargin: time.Minute, Now: clock.Now})
	return a, up, clock
}

func TestSignedURLReusesLeaseWithinWindow(t *testing.T) {
	t.Parallel()

	a, up, clock := newTestAuthorizer(23 * time.Hour)
	ctx := context.Background()

	first, err := a.SignedURL(ctx, "thumbs/abc.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, first.URL, "thumbs/abc.jpg")
	assert.Equal(t, DefaultTTL, first.TTL)
	assert.Equal(t, clock.Now().Add(DefaultTTL), first.ExpiresAt)

	clock.Advance(22 * time.Hour)
	second, err := a.SignedURL(ctx, "thumbs/def.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, second.URL, "token-1")
	assert.Equal(t, 1, up.authorized)
}

func TestSignedURLRefreshesInsideMargin(t *testing.T) {
	t.Parallel()

	a, up, clock := newTestAuthorizer(23 * time.Hour)
	ctx := context.Background()

	_, err := a.SignedURL(ctx, "a.jpg", 0)
	require.NoError(t, err)

	clock.Advance(23*time.Hour - 30*time.Second)
	got, err := a.SignedURL(ctx, "a.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, got.URL, "token-2")
	assert.Equal(t, 2, up.authorized)
}

func TestSignedURLAuthorizationFailure(t *testing.T) {
	t.Parallel()

	a, up, _ := newTestAuthorizer(time.Hour)
	up.authErr = errors.New("401 bad_auth_token")

	got, err := a.SignedURL(context.Background(), "a.jpg", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamAuthFailure))
	assert.Empty(t, got.URL)
	assert.Empty(t, up.signed)
	assert.Nil(t, a.lease.Load())
}

func TestSignedURLRejectsShortLivedLease(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAuthorizer(30 * time.Second)

	_, err := a.SignedURL(context.Background(), "a.jpg", 0)
	assert.True(t, errors.Is(err, domain.ErrUpstreamAuthFailure))
	assert.Nil(t, a.lease.Load())
}

func TestSignedURLDropsRejectedLease(t *testing.T) {
	t.Parallel()

	a, up, _ := newTestAuthorizer(time.Hour)
	ctx := context.Background()

	_, err := a.SignedURL(ctx, "a.jpg", 0)
	require.NoError(t, err)

	up.signErr = fmt.Errorf("expired_auth_token: %w", ports.ErrLeaseRejected)
	_, err = a.SignedURL(ctx, "a.jpg", 0)
	assert.True(t, errors.Is(err, domain.ErrUpstreamAuthFailure))
	assert.Nil(t, a.lease.Load())

	up.signErr = nil
	got, err := a.SignedURL(ctx, "a.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, got.URL, "token-2")
}

func TestSignedURLBoundsTTL(t *testing.T) {
	t.Parallel()

	a, _, clock := newTestAuthorizer(2 * time.Hour)
	ctx := context.Background()

	got, err := a.SignedURL(ctx, "a.jpg", 10*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTTL, got.TTL)
	assert.False(t, got.ExpiresAt.After(clock.Now().Add(DefaultMaxTTL)))

	got, err = a.SignedURL(ctx, "a.jpg", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.TTL)
	assert.Contains(t, got.URL, "ttl=90")

	got, err = a.SignedURL(ctx, "a.jpg", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, got.TTL)
	assert.False(t, got.ExpiresAt.After(clock.Now().Add(time.Second)))
}

func TestSignedURLRejectsUnsignableTTL(t *testing.T) {
	t.Parallel()

	a, up, _ := newTestAuthorizer(time.Hour)
	ctx := context.Background()

	for _, ttl := range []time.Duration{500 * time.Millisecond, time.Nanosecond, -time.Second} {
		_, err := a.SignedURL(ctx, "a.jpg", ttl)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "ttl %s", ttl)
	}
	assert.Empty(t, up.signed)
	assert.Zero(t, up.authorized)
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: "thumbs/a.jpg", want: "thumbs/a.jpg", ok: true},
		{raw: "/thumbs/a.jpg", want: "thumbs/a.jpg", ok: true},
		{raw: "  ", ok: false},
		{raw: "https://cdn.example/a.jpg", ok: false},
		{raw: "HTTP://cdn.example/a.jpg", ok: false},
		{raw: "../secrets", ok: false},
		{raw: "a//b.jpg", ok: false},
	}

	for _, tc := range cases {
		got, err := NormalizeKey(tc.raw)
		if !tc.ok {
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "key %q", tc.raw)
			continue
		}
		require.NoError(t, err, "key %q", tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestNewAuthorizerEnforcesMinimumMargin(t *testing.T) {
	t.Parallel()

	a := NewAuthorizer(&fakeUpstream{}, Options{RenewalMargin: time.Second})
	assert.Equal(t, MinRenewalMargin, a.margin)
	assert.Equal(t, DefaultTTL, a.defaultTTL)
}

func TestWarmRefreshesOnlyWhenNeeded(t *testing.T) {
	t.Parallel()

	a, up, clock := newTestAuthorizer(time.Hour)
	ctx := context.Background()

	require.NoError(t, a.Warm(ctx))
	require.NoError(t, a.Warm(ctx))
	assert.Equal(t, 1, up.authorized)

	clock.Advance(59*time.Minute + 30*time.Second)
	require.NoError(t, a.Warm(ctx))
	assert.Equal(t, 2, up.authorized)

	_, err := a.SignedURL(ctx, "a.jpg", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, up.authorized)
}
