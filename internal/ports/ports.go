package ports

import (
	"context"
	"errors"
	"time"

	"DropTracker/internal/domain"
	"DropTracker/internal/query"
)

// RecordStore persists tracked records. Every call is scoped to exactly one
// collection that has already been resolved through the registry.
type RecordStore interface {
	List(ctx context.Context, plan query.ListPlan) ([]domain.TrackedRecord, int64, error)
	Get(ctx context.Context, c domain.Collection, id string) (domain.TrackedRecord, error)
	// UpdateStage moves the record from stage from to next. It returns
	// ErrStageChanged when no record with that id is at from; the record may
	// have moved or been deleted since it was read.
	UpdateStage(ctx context.Context, c domain.Collection, id string, from, next domain.Stage) error
	Delete(ctx context.Context, c domain.Collection, id string) error
	Insert(ctx context.Context, c domain.Collection, rec domain.NewRecord) (string, error)
	SetExtraction(ctx context.Context, c domain.Collection, id string, ext domain.Extraction) error
}

// ExtractionQueue hands extraction requests to the external worker.
type ExtractionQueue interface {
	Enqueue(ctx context.Context, req domain.ExtractionRequest) error
}

// AssetUpstream is the remote object store issuing leases and signed links.
type AssetUpstream interface {
	Authorize(ctx context.Context) (domain.AuthorizationLease, error)
	SignURL(ctx context.Context, lease domain.AuthorizationLease, key string, ttl time.Duration) (string, error)
}

// ErrLeaseRejected is wrapped by an AssetUpstream when the upstream refused
// the lease it was handed, so the caller can drop it before the next attempt.
var ErrLeaseRejected = errors.New("lease rejected by upstream")

// ErrStageChanged is returned by RecordStore.UpdateStage when the stored stage
// no longer matches the one the transition was checked against.
var ErrStageChanged = errors.New("stored stage changed")

// AssetSigner issues signed links for asset keys.
type AssetSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (domain.SignedURL, error)
}

// Pinger is implemented by adapters that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
