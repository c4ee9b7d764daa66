package domain

import "time"

// AuthorizationLease is a time-bounded credential issued by the asset store.
// Provider-specific connection details travel alongside the token so that a
// signer can use the lease without consulting any other state.
type AuthorizationLease struct {
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	APIURL      string
	DownloadURL string
	AccountID   string

	// Secret and SessionToken are only populated by providers whose lease
	// is a key pair.
	Secret       string
	SessionToken string
}

// Usable reports whether the lease can still be presented at now, keeping
// margin in reserve so renewal happens before the upstream expiry.
func (l *AuthorizationLease) Usable(now time.Time, margin time.Duration) bool {
	if l == nil || l.Token == "" {
		return false
	}
	return now.Before(l.ExpiresAt.Add(-margin))
}

// SignedURL is a download link scoped to a single asset key.
type SignedURL struct {
	URL       string
	Key       string
	TTL       time.Duration
	ExpiresAt time.Time
}
