package query

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"DropTracker/internal/domain"
)

// RecordColumns is the column set selected for a tracked record.
var RecordColumns = []string{
	"id", "source_url", "title", "thumbnail_ref", "stage",
	"extracted_links", "extracted_images", "created_at",
}

// Postgres is the statement builder shared by the relational store.
var Postgres = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Table returns the quoted physical identifier of a resolved collection.
func Table(c domain.Collection) string {
	return pq.QuoteIdentifier(c.Table)
}

func (p ListPlan) sqlFilter() sq.Sqlizer {
	if p.StageFilter == nil {
		return nil
	}
	return sq.Eq{"stage": string(*p.StageFilter)}
}

// StageIs matches rows whose stored stage reads back as s. Rows with an empty
// or undeclared stage read as pending, so they match pending too.
func StageIs(c domain.Collection, s domain.Stage) sq.Sqlizer {
	if s != domain.StagePending {
		return sq.Eq{"stage": string(s)}
	}
	return sq.Or{
		sq.Eq{"stage": nil},
		sq.NotEq{"stage": stageStrings(c.Workflow.StagesExcept(s))},
	}
}

func stageStrings(stages []domain.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

// ItemsSQL renders the bounded, newest-first item fetch.
func (p ListPlan) ItemsSQL() (string, []any, error) {
	b := Postgres.Select(RecordColumns...).From(Table(p.Collection))
	if f := p.sqlFilter(); f != nil {
		b = b.Where(f)
	}
	// squirrel inlines Limit/Offset, so they go through Suffix as bound values.
	return b.OrderBy("id DESC").
		Suffix("LIMIT ? OFFSET ?", p.Limit, p.Offset).
		ToSql()
}

// CountSQL renders the unbounded count under the same filter as ItemsSQL.
func (p ListPlan) CountSQL() (string, []any, error) {
	b := Postgres.Select("COUNT(*)").From(Table(p.Collection))
	if f := p.sqlFilter(); f != nil {
		b = b.Where(f)
	}
	return b.ToSql()
}
