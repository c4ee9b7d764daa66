package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"DropTracker/internal/collection"
	"DropTracker/internal/domain"
	"DropTracker/internal/metrics"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
	"DropTracker/internal/stage"
)

// Deps wires the driven adapters into the record service.
type Deps struct {
	Registry *collection.Registry
	Store    ports.RecordStore
	Queue    ports.ExtractionQueue
	Assets   ports.AssetSigner
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Service implements every record operation exposed to callers. Each
// operation resolves the collection before touching storage.
type Service struct {
	registry *collection.Registry
	store    ports.RecordStore
	machine  *stage.Machine
	queue    ports.ExtractionQueue
	assets   ports.AssetSigner
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService constructs the record service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry: deps.Registry,
		store:    deps.Store,
		machine:  stage.NewMachine(deps.Store),
		queue:    deps.Queue,
		assets:   deps.Assets,
		logger:   logger,
		metrics:  deps.Metrics,
		now:      now,
	}
}

// Collections lists the configured collection names.
func (s *Service) Collections() []string {
	return s.registry.Names()
}

// List returns one page of records.
func (s *Service) List(ctx context.Context, collectionName, stageFilter string, page, limit int) (domain.Page, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return domain.Page{}, err
	}

	plan, err := query.BuildListPlan(c, stageFilter, page, limit)
	if err != nil {
		return domain.Page{}, err
	}

	items, total, err := s.store.List(ctx, plan)
	if err != nil {
		return domain.Page{}, err
	}
	return plan.Result(items, total), nil
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, collectionName, id string) (domain.TrackedRecord, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return domain.TrackedRecord{}, err
	}
	return s.store.Get(ctx, c, id)
}

// UpdateStage moves a record to the requested stage and returns it.
func (s *Service) UpdateStage(ctx context.Context, collectionName, id, requested string) (domain.TrackedRecord, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	next, err := c.Workflow.ParseStage(strings.TrimSpace(requested))
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	rec, err := s.store.Get(ctx, c, id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	from := rec.Stage
	rec.Stage, err = s.machine.Transition(ctx, c, rec, next)
	s.recordTransition(c, err)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	if from != rec.Stage {
		s.logger.Info("stage updated",
			zap.String("collection", c.Name),
			zap.String("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(rec.Stage)))
	}
	return rec, nil
}

// Delete hard-deletes a record. Referenced assets are left in place.
func (s *Service) Delete(ctx context.Context, collectionName, id string) error {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, c, id); err != nil {
		return err
	}

	s.logger.Info("record deleted", zap.String("collection", c.Name), zap.String("id", id))
	return nil
}

// Insert registers a new pending record.
func (s *Service) Insert(ctx context.Context, collectionName string, rec domain.NewRecord) (string, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return "", err
	}

	rec.SourceURL = strings.TrimSpace(rec.SourceURL)
	rec.Title = strings.TrimSpace(rec.Title)
	rec.ThumbnailRef = strings.TrimSpace(rec.ThumbnailRef)
	rec.TopicID = strings.TrimSpace(rec.TopicID)
	if err := validateSourceURL(rec.SourceURL); err != nil {
		return "", err
	}
	if rec.TopicID == "" {
		rec.TopicID = domain.TopicIDFromURL(rec.SourceURL)
	}

	id, err := s.store.Insert(ctx, c, rec)
	if err != nil {
		return "", err
	}

	s.logger.Info("record inserted", zap.String("collection", c.Name), zap.String("id", id))
	return id, nil
}

// RequestExtraction queues the record for the extraction worker and moves it
// to extracting. The request is queued before the stage write so a record
// never sits in extracting without a pending request.
func (s *Service) RequestExtraction(ctx context.Context, collectionName, id, principal string) (domain.TrackedRecord, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return domain.TrackedRecord{}, err
	}
	if !c.SupportsExtraction() {
		return domain.TrackedRecord{}, domain.NewError(domain.KindInvalidInput,
			fmt.Sprintf("collection %s does not support extraction", c.Name), nil)
	}

	rec, err := s.store.Get(ctx, c, id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}
	if err := stage.Check(c, rec.Stage, domain.StageExtracting); err != nil {
		s.recordTransition(c, err)
		return domain.TrackedRecord{}, err
	}

	if s.queue == nil {
		return domain.TrackedRecord{}, domain.NewError(domain.KindStorageUnavailable, "extraction queue is not configured", nil)
	}
	req := domain.ExtractionRequest{
		Collection:  c.Name,
		RecordID:    rec.ID,
		SourceURL:   rec.SourceURL,
		Principal:   principal,
		RequestedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		return domain.TrackedRecord{}, err
	}

	rec.Stage, err = s.machine.Transition(ctx, c, rec, domain.StageExtracting)
	s.recordTransition(c, err)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	s.logger.Info("extraction requested",
		zap.String("collection", c.Name),
		zap.String("id", rec.ID),
		zap.String("principal", principal))
	return rec, nil
}

// CompleteExtraction moves the record to extracted and stores the worker's
// output. The stage is written first: if the payload write then fails the
// record sits in extracted without links, and a repeated completion (a
// same-stage no-op) fills them in.
func (s *Service) CompleteExtraction(ctx context.Context, collectionName, id string, ext domain.Extraction) (domain.TrackedRecord, error) {
	c, err := s.registry.Resolve(collectionName)
	if err != nil {
		return domain.TrackedRecord{}, err
	}
	if !c.SupportsExtraction() {
		return domain.TrackedRecord{}, domain.NewError(domain.KindInvalidInput,
			fmt.Sprintf("collection %s does not support extraction", c.Name), nil)
	}

	rec, err := s.store.Get(ctx, c, id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	rec.Stage, err = s.machine.Transition(ctx, c, rec, domain.StageExtracted)
	s.recordTransition(c, err)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	ext.Links = compact(ext.Links)
	ext.Images = compact(ext.Images)
	if err := s.store.SetExtraction(ctx, c, rec.ID, ext); err != nil {
		s.logger.Warn("extraction payload not stored",
			zap.String("collection", c.Name),
			zap.String("id", rec.ID),
			zap.Error(err))
		return domain.TrackedRecord{}, err
	}
	rec.ExtractedLinks = ext.Links
	rec.ExtractedImages = ext.Images

	s.logger.Info("extraction stored",
		zap.String("collection", c.Name),
		zap.String("id", rec.ID),
		zap.Int("links", len(ext.Links)),
		zap.Int("images", len(ext.Images)))
	return rec, nil
}

// SignedAsset returns a short-lived link for one thumbnail key.
func (s *Service) SignedAsset(ctx context.Context, key string, ttl time.Duration) (domain.SignedURL, error) {
	if s.assets == nil {
		return domain.SignedURL{}, domain.NewError(domain.KindUpstreamAuthFailure, "asset store is not configured", nil)
	}
	return s.assets.SignedURL(ctx, key, ttl)
}

// Health pings every adapter that can report reachability.
func (s *Service) Health(ctx context.Context) error {
	for _, dep := range []any{s.store, s.queue} {
		p, ok := dep.(ports.Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return domain.Unavailable("health check", err)
		}
	}
	return nil
}

func (s *Service) recordTransition(c domain.Collection, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	s.metrics.Transition(c.Name, result)
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return domain.NewError(domain.KindInvalidInput, "source_url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.NewError(domain.KindInvalidInput, "source_url must be an absolute http(s) url", nil)
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
