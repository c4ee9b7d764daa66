package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
)

var fixedNow = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewPostgresRepository(sqlx.NewDb(db, "postgres"))
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func collectionFor(t *testing.T, kind domain.WorkflowKind, unique bool) domain.Collection {
	t.Helper()
	wf, err := domain.LookupWorkflow(kind)
	require.NoError(t, err)
	return domain.Collection{Name: "new-posts", Table: "new-posts", Workflow: wf, UniqueSourceURL: unique}
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows(query.RecordColumns)
}

func TestPostgresListFiltersAndCounts(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.MatchExpectationsInOrder(false)
	c := collectionFor(t, domain.WorkflowExtraction, false)

	plan, err := query.BuildListPlan(c, "extracted", 3, 10)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "new-posts" WHERE stage = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`)).
		WithArgs("extracted", 10, 20).
		WillReturnRows(recordRows().
			AddRow(22, "https://example.org/topic/22-a", "A", nil, "extracted", "{https://l/1,https://l/2}", nil, fixedNow).
			AddRow(21, "https://example.org/topic/21-b", nil, "thumbs/21.jpg", "extracted", nil, "{https://i/1}", fixedNow))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "new-posts" WHERE stage = $1`)).
		WithArgs("extracted").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(22))

	items, total, err := repo.List(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, int64(22), total)
	require.Len(t, items, 2)
	assert.Equal(t, "22", items[0].ID)
	assert.Equal(t, []string{"https://l/1", "https://l/2"}, items[0].ExtractedLinks)
	assert.Equal(t, "thumbs/21.jpg", items[1].ThumbnailRef)
	assert.Equal(t, []string{"https://i/1"}, items[1].ExtractedImages)
	assert.Equal(t, domain.StageExtracted, items[1].Stage)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEmpty(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.MatchExpectationsInOrder(false)
	c := collectionFor(t, domain.WorkflowModeration, false)

	plan, err := query.BuildListPlan(c, "", 4, 10)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "new-posts" ORDER BY id DESC LIMIT $1 OFFSET $2`)).
		WithArgs(10, 30).
		WillReturnRows(recordRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "new-posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	items, total, err := repo.List(context.Background(), plan)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, int64(25), total)
}

func TestPostgresListHugePageStaysEmpty(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.MatchExpectationsInOrder(false)
	c := collectionFor(t, domain.WorkflowModeration, false)

	plan, err := query.BuildListPlan(c, "", 100_000_000_000_000_000, 100)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id DESC LIMIT $1 OFFSET $2`)).
		WithArgs(100, int64(query.MaxOffset)).
		WillReturnRows(recordRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "new-posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	items, total, err := repo.List(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int64(25), total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListFailsWhenCountFails(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.MatchExpectationsInOrder(false)
	c := collectionFor(t, domain.WorkflowModeration, false)

	plan, err := query.BuildListPlan(c, "", 1, 10)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id DESC`)).WillReturnRows(recordRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).WillReturnError(sql.ErrConnDone)

	_, _, err = repo.List(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestPostgresGet(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowModeration, false)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "new-posts" WHERE id = $1`)).
		WithArgs(7).
		WillReturnRows(recordRows().AddRow(7, "https://example.org/7", "seven", nil, "", nil, nil, fixedNow))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "new-posts" WHERE id = $1`)).
		WithArgs(8).
		WillReturnRows(recordRows())

	rec, err := repo.Get(context.Background(), c, "7")
	require.NoError(t, err)
	assert.Equal(t, "seven", rec.Title)
	assert.Equal(t, domain.StagePending, rec.Stage, "legacy empty stage reads as pending")

	_, err = repo.Get(context.Background(), c, "8")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = repo.Get(context.Background(), c, "65a1f0")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStage(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowExtraction, false)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "new-posts" SET stage = $1 WHERE id = $2 AND stage = $3`)).
		WithArgs("complete", 7, "extracted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "new-posts" SET stage = $1 WHERE id = $2 AND stage = $3`)).
		WithArgs("complete", 99, "extracted").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateStage(context.Background(), c, "7", domain.StageExtracted, domain.StageComplete))

	err := repo.UpdateStage(context.Background(), c, "99", domain.StageExtracted, domain.StageComplete)
	assert.True(t, errors.Is(err, ports.ErrStageChanged))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStageFromPendingMatchesLegacyRows(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowModeration, false)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE "new-posts" SET stage = $1 WHERE id = $2 AND (stage IS NULL OR stage NOT IN ($3,$4))`)).
		WithArgs("checked", 7, "checked", "rejected").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStage(context.Background(), c, "7", domain.StagePending, domain.StageChecked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetExtraction(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowExtraction, false)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "new-posts" SET extracted_links = $1, extracted_images = $2 WHERE id = $3`)).
		WithArgs(pq.StringArray{"https://l/1"}, pq.StringArray{"https://i/1"}, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetExtraction(context.Background(), c, "7", domain.Extraction{
		Links:  []string{"https://l/1"},
		Images: []string{"https://i/1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteTwice(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowModeration, false)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "new-posts" WHERE id = $1`)).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "new-posts" WHERE id = $1`)).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), c, "7"))
	err := repo.Delete(context.Background(), c, "7")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteConnectionFailure(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowModeration, false)

	mock.ExpectExec(`DELETE FROM`).WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	err := repo.Delete(context.Background(), c, "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))

	var coreErr *domain.Error
	require.True(t, errors.As(err, &coreErr))
	assert.NotContains(t, coreErr.Message, "10.0.0.5")
}

func TestPostgresInsert(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowExtraction, false)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "new-posts" (source_url,title,thumbnail_ref,stage,created_at) VALUES ($1,$2,$3,$4,$5) RETURNING id`)).
		WithArgs("https://example.org/a", "A", nil, "pending", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))

	id, err := repo.Insert(context.Background(), c, domain.NewRecord{SourceURL: "https://example.org/a", Title: "A"})
	require.NoError(t, err)
	assert.Equal(t, "41", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertDuplicate(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	c := collectionFor(t, domain.WorkflowExtraction, true)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "new-posts" WHERE source_url = $1 LIMIT 1`)).
		WithArgs("https://example.org/a").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := repo.Insert(context.Background(), c, domain.NewRecord{SourceURL: "https://example.org/a"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateURL))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "new-posts"`)).
		WithArgs("https://example.org/b").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "new-posts"`)).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	_, err = repo.Insert(context.Background(), c, domain.NewRecord{SourceURL: "https://example.org/b"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateURL))

	require.NoError(t, mock.ExpectationsWereMet())
}
