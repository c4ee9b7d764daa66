package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
)

func TestDocumentFilter(t *testing.T) {
	t.Parallel()

	c := collectionFor(t, domain.WorkflowModeration, false)

	plan, err := query.BuildListPlan(c, "all", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, documentFilter(plan))

	plan, err = query.BuildListPlan(c, "rejected", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "stage", Value: "rejected"}}, documentFilter(plan))
}

func TestRecordDocumentFallsBackToObjectIDTime(t *testing.T) {
	t.Parallel()

	c := collectionFor(t, domain.WorkflowModeration, false)
	created := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)
	doc := recordDocument{ID: bson.NewObjectIDFromTimestamp(created), SourceURL: "https://x", Stage: "approved"}

	rec := doc.toDomain(c)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, domain.StagePending, rec.Stage)
}

func TestRecordDocumentReadsDropDBShape(t *testing.T) {
	t.Parallel()

	c := collectionFor(t, domain.WorkflowModeration, false)
	oid := bson.NewObjectID()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: oid},
		{Key: "title", Value: "Spring drop"},
		{Key: "post_url", Value: "https://forum.example/topic/4821-spring-drop/"},
		{Key: "thumb_url", Value: "thumbs/4821.jpg"},
		{Key: "topic_id", Value: "4821"},
		{Key: "stage", Value: "checked"},
		{Key: "extracted_links", Value: bson.A{"https://l/1"}},
		{Key: "extracted_images", Value: bson.A{}},
	})
	require.NoError(t, err)

	var doc recordDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	rec := doc.toDomain(c)

	assert.Equal(t, oid.Hex(), rec.ID)
	assert.Equal(t, "https://forum.example/topic/4821-spring-drop/", rec.SourceURL)
	assert.Equal(t, "thumbs/4821.jpg", rec.ThumbnailRef)
	assert.Equal(t, "4821", rec.TopicID)
	assert.Equal(t, domain.StageChecked, rec.Stage)
	assert.Equal(t, []string{"https://l/1"}, rec.ExtractedLinks)
	assert.Equal(t, oid.Timestamp().UTC(), rec.CreatedAt)
}

func TestRecordDocumentDerivesTopicID(t *testing.T) {
	t.Parallel()

	c := collectionFor(t, domain.WorkflowModeration, false)
	doc := recordDocument{ID: bson.NewObjectID(), SourceURL: "https://forum.example/topic/77-x/"}
	assert.Equal(t, "77", doc.toDomain(c).TopicID)

	fields, err := bson.Marshal(doc)
	require.NoError(t, err)
	var back bson.M
	require.NoError(t, bson.Unmarshal(fields, &back))
	assert.Contains(t, back, "post_url")
	assert.NotContains(t, back, "source_url")
}

func TestMongoParseObjectID(t *testing.T) {
	t.Parallel()

	_, err := parseObjectID("7")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestMongoRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mongo container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := OpenMongo(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	repo := NewMongoRepository(client.Database("drop-db-test"))
	c := collectionFor(t, domain.WorkflowExtraction, true)

	ids := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		id, err := repo.Insert(ctx, c, domain.NewRecord{SourceURL: fmt.Sprintf("https://example.org/topic/%d-x", i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err = repo.Insert(ctx, c, domain.NewRecord{SourceURL: "https://example.org/topic/3-x"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateURL))

	for page, want := range map[int]int{1: 10, 3: 5, 4: 0} {
		plan, err := query.BuildListPlan(c, "", page, 10)
		require.NoError(t, err)
		items, total, err := repo.List(ctx, plan)
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		assert.Len(t, items, want, "page %d", page)
	}

	plan, err := query.BuildListPlan(c, "", 1, 1)
	require.NoError(t, err)
	newest, _, err := repo.List(ctx, plan)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, ids[24], newest[0].ID)

	require.NoError(t, repo.UpdateStage(ctx, c, ids[0], domain.StagePending, domain.StageExtracted))
	assert.True(t, errors.Is(repo.UpdateStage(ctx, c, ids[0], domain.StagePending, domain.StageError), ports.ErrStageChanged))
	require.NoError(t, repo.SetExtraction(ctx, c, ids[0], domain.Extraction{Links: []string{"https://l/1"}}))

	rec, err := repo.Get(ctx, c, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StageExtracted, rec.Stage)
	assert.Equal(t, []string{"https://l/1"}, rec.ExtractedLinks)

	plan, err = query.BuildListPlan(c, "extracted", 1, 10)
	require.NoError(t, err)
	items, total, err := repo.List(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, ids[0], items[0].ID)

	require.NoError(t, repo.Delete(ctx, c, ids[0]))
	assert.True(t, errors.Is(repo.Delete(ctx, c, ids[0]), domain.ErrNotFound))

	missing := bson.NewObjectID().Hex()
	assert.True(t, errors.Is(repo.UpdateStage(ctx, c, missing, domain.StageExtracted, domain.StageComplete), ports.ErrStageChanged))
}
