package domain

// Collection describes one allow-listed logical collection.
type Collection struct {
	Name string
	// Table is the physical table or document collection name.
	Table           string
	Workflow        Workflow
	UniqueSourceURL bool
}

// SupportsExtraction reports whether records in the collection can be sent to
// the extraction worker.
func (c Collection) SupportsExtraction() bool {
	return c.Workflow.Kind == WorkflowExtraction
}
