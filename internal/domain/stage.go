package domain

import "fmt"

// Stage is a position of a record within its collection workflow.
type Stage string

const (
	StagePending    Stage = "pending"
	StageExtracting Stage = "extracting"
	StageExtracted  Stage = "extracted"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
	StageChecked    Stage = "checked"
	StageRejected   Stage = "rejected"
)

// WorkflowKind names one of the statically known workflow variants.
type WorkflowKind string

const (
	WorkflowExtraction WorkflowKind = "extraction"
	WorkflowModeration WorkflowKind = "moderation"
)

// Workflow is a closed stage enum plus the transitions permitted between its values.
type Workflow struct {
	Kind        WorkflowKind
	Stages      []Stage
	Transitions map[Stage][]Stage
}

var (
	extractionWorkflow = Workflow{
		Kind:   WorkflowExtraction,
		Stages: []Stage{StagePending, StageExtracting, StageExtracted, StageComplete, StageError},
		Transitions: map[Stage][]Stage{
			StagePending:    {StageExtracting, StageExtracted, StageError},
			StageExtracting: {StageExtracted, StageError},
			StageError:      {StageExtracting},
			StageExtracted:  {StageComplete},
		},
	}

	moderationWorkflow = Workflow{
		Kind:   WorkflowModeration,
		Stages: []Stage{StagePending, StageChecked, StageRejected},
		Transitions: map[Stage][]Stage{
			StagePending: {StageChecked, StageRejected},
		},
	}
)

// LookupWorkflow returns the workflow variant registered under kind.
func LookupWorkflow(kind WorkflowKind) (Workflow, error) {
	switch kind {
	case WorkflowExtraction:
		return extractionWorkflow, nil
	case WorkflowModeration:
		return moderationWorkflow, nil
	default:
		return Workflow{}, fmt.Errorf("unknown workflow %q", kind)
	}
}

// Has reports whether s is a declared stage of the workflow.
func (w Workflow) Has(s Stage) bool {
	for _, declared := range w.Stages {
		if declared == s {
			return true
		}
	}
	return false
}

// Allows reports whether from -> to is listed in the transition table.
func (w Workflow) Allows(from, to Stage) bool {
	for _, next := range w.Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StagesExcept returns the declared stages other than s, in declaration order.
func (w Workflow) StagesExcept(s Stage) []Stage {
	out := make([]Stage, 0, len(w.Stages))
	for _, declared := range w.Stages {
		if declared != s {
			out = append(out, declared)
		}
	}
	return out
}

// ParseStage validates raw against the workflow enum.
func (w Workflow) ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !w.Has(s) {
		return "", NewError(KindInvalidInput,
			fmt.Sprintf("stage %q is not defined for the %s workflow", raw, w.Kind), nil)
	}
	return s, nil
}
