package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
)

const pqUniqueViolation = "23505"

// PostgresRepository stores each collection in its own table.
type PostgresRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ ports.RecordStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a pooled sqlx.DB.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

type recordRow struct {
	ID              int64          `db:"id"`
	SourceURL       string         `db:"source_url"`
	Title           sql.NullString `db:"title"`
	ThumbnailRef    sql.NullString `db:"thumbnail_ref"`
	Stage           sql.NullString `db:"stage"`
	ExtractedLinks  pq.StringArray `db:"extracted_links"`
	ExtractedImages pq.StringArray `db:"extracted_images"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (row recordRow) toDomain(c domain.Collection) domain.TrackedRecord {
	return domain.TrackedRecord{
		ID:              strconv.FormatInt(row.ID, 10),
		SourceURL:       row.SourceURL,
		Title:           row.Title.String,
		ThumbnailRef:    row.ThumbnailRef.String,
		TopicID:         domain.TopicIDFromURL(row.SourceURL),
		Stage:           normalizeStage(c, row.Stage.String),
		ExtractedLinks:  []string(row.ExtractedLinks),
		ExtractedImages: []string(row.ExtractedImages),
		CreatedAt:       row.CreatedAt,
	}
}

func parseRowID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 1 {
		return 0, domain.NewError(domain.KindInvalidInput, "record id must be a positive integer", nil)
	}
	return n, nil
}

// List executes the item and count statements of plan concurrently.
func (r *PostgresRepository) List(ctx context.Context, plan query.ListPlan) ([]domain.TrackedRecord, int64, error) {
	itemsSQL, itemsArgs, err := plan.ItemsSQL()
	if err != nil {
		return nil, 0, domain.Unavailable("build items query", err)
	}
	countSQL, countArgs, err := plan.CountSQL()
	if err != nil {
		return nil, 0, domain.Unavailable("build count query", err)
	}

	return listConcurrently(ctx,
		func(ctx context.Context) ([]domain.TrackedRecord, error) {
			var rows []recordRow
			if err := r.db.SelectContext(ctx, &rows, itemsSQL, itemsArgs...); err != nil {
				return nil, domain.Unavailable("select records", err)
			}
			items := make([]domain.TrackedRecord, 0, len(rows))
			for _, row := range rows {
				items = append(items, row.toDomain(plan.Collection))
			}
			return items, nil
		},
		func(ctx context.Context) (int64, error) {
			var total int64
			if err := r.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
				return 0, domain.Unavailable("count records", err)
			}
			return total, nil
		},
	)
}

// Get loads one record by id.
func (r *PostgresRepository) Get(ctx context.Context, c domain.Collection, id string) (domain.TrackedRecord, error) {
	n, err := parseRowID(id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	stmt, args, err := query.Postgres.Select(query.RecordColumns...).
		From(query.Table(c)).
		Where(sq.Eq{"id": n}).
		ToSql()
	if err != nil {
		return domain.TrackedRecord{}, domain.Unavailable("build get query", err)
	}

	var row recordRow
	if err := r.db.GetContext(ctx, &row, stmt, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TrackedRecord{}, notFound(c, id)
		}
		return domain.TrackedRecord{}, domain.Unavailable("get record", err)
	}
	return row.toDomain(c), nil
}

// UpdateStage sets the stage column of one row, provided it still holds from.
func (r *PostgresRepository) UpdateStage(ctx context.Context, c domain.Collection, id string, from, next domain.Stage) error {
	n, err := parseRowID(id)
	if err != nil {
		return err
	}

	stmt, args, err := query.Postgres.Update(query.Table(c)).
		Set("stage", string(next)).
		Where(sq.Eq{"id": n}).
		Where(query.StageIs(c, from)).
		ToSql()
	if err != nil {
		return domain.Unavailable("build update stage", err)
	}

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return domain.Unavailable("update stage", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("update stage", err)
	}
	if affected == 0 {
		return fmt.Errorf("update stage of %s in %s: %w", id, c.Name, ports.ErrStageChanged)
	}
	return nil
}

// SetExtraction stores the links and images found by the extraction worker.
func (r *PostgresRepository) SetExtraction(ctx context.Context, c domain.Collection, id string, ext domain.Extraction) error {
	return r.update(ctx, c, id, "store extraction", query.Postgres.Update(query.Table(c)).
		Set("extracted_links", pq.StringArray(ext.Links)).
		Set("extracted_images", pq.StringArray(ext.Images)))
}

func (r *PostgresRepository) update(ctx context.Context, c domain.Collection, id, op string, b sq.UpdateBuilder) error {
	n, err := parseRowID(id)
	if err != nil {
		return err
	}

	stmt, args, err := b.Where(sq.Eq{"id": n}).ToSql()
	if err != nil {
		return domain.Unavailable("build "+op, err)
	}

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return domain.Unavailable(op, err)
	}
	return expectOneRow(res, c, id, op)
}

// Delete removes one row without touching referenced assets.
func (r *PostgresRepository) Delete(ctx context.Context, c domain.Collection, id string) error {
	n, err := parseRowID(id)
	if err != nil {
		return err
	}

	stmt, args, err := query.Postgres.Delete(query.Table(c)).Where(sq.Eq{"id": n}).ToSql()
	if err != nil {
		return domain.Unavailable("build delete", err)
	}

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return domain.Unavailable("delete record", err)
	}
	return expectOneRow(res, c, id, "delete record")
}

// Insert adds a pending record and returns its id. Collections configured
// with a unique source url are checked before the write; a concurrent insert
// that slips past the check is caught by the unique index.
func (r *PostgresRepository) Insert(ctx context.Context, c domain.Collection, rec domain.NewRecord) (string, error) {
	if c.UniqueSourceURL {
		exists, err := r.sourceURLExists(ctx, c, rec.SourceURL)
		if err != nil {
			return "", err
		}
		if exists {
			return "", duplicate(c, rec.SourceURL, nil)
		}
	}

	stmt, args, err := query.Postgres.Insert(query.Table(c)).
		Columns("source_url", "title", "thumbnail_ref", "stage", "created_at").
		Values(rec.SourceURL, nullable(rec.Title), nullable(rec.ThumbnailRef), string(domain.StagePending), r.now().UTC()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return "", domain.Unavailable("build insert", err)
	}

	var id int64
	if err := r.db.QueryRowxContext(ctx, stmt, args...).Scan(&id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return "", duplicate(c, rec.SourceURL, err)
		}
		return "", domain.Unavailable("insert record", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *PostgresRepository) sourceURLExists(ctx context.Context, c domain.Collection, sourceURL string) (bool, error) {
	stmt, args, err := query.Postgres.Select("1").
		From(query.Table(c)).
		Where(sq.Eq{"source_url": sourceURL}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, domain.Unavailable("build duplicate check", err)
	}

	var one int
	if err := r.db.GetContext(ctx, &one, stmt, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, domain.Unavailable("duplicate check", err)
	}
	return true, nil
}

// Ping verifies the pool can reach the server.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func expectOneRow(res sql.Result, c domain.Collection, id, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable(op, err)
	}
	if affected == 0 {
		return notFound(c, id)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
