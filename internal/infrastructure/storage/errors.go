package storage

import (
	"fmt"

	"DropTracker/internal/domain"
)

func notFound(c domain.Collection, id string) error {
	return domain.NewError(domain.KindNotFound,
		fmt.Sprintf("record %s not found in %s", id, c.Name), nil)
}

func duplicate(c domain.Collection, sourceURL string, cause error) error {
	return domain.NewError(domain.KindDuplicateURL,
		fmt.Sprintf("%s is already tracked in %s", sourceURL, c.Name), cause)
}

// normalizeStage maps a stored stage onto the collection enum. Rows written
// before the enum existed may carry an empty or foreign value; those read as
// pending.
func normalizeStage(c domain.Collection, raw string) domain.Stage {
	s := domain.Stage(raw)
	if c.Workflow.Has(s) {
		return s
	}
	return domain.StagePending
}
