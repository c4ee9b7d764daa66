package collection

import (
	"fmt"
	"regexp"
	"sort"

	"DropTracker/internal/domain"
)

// DefaultName is used when a request does not name a collection.
const DefaultName = "new-posts"

// physicalName restricts table identifiers to characters that are safe once quoted.
var physicalName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// Entry describes a collection as it appears in configuration.
type Entry struct {
	Name            string
	Table           string
	Workflow        domain.WorkflowKind
	UniqueSourceURL bool
}

// Registry is the closed allow-list of collections. It is built once at
// startup and never mutated afterwards, so concurrent Resolve calls are safe.
type Registry struct {
	collections map[string]domain.Collection
}

// NewRegistry validates entries and builds the allow-list.
func NewRegistry(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no collections configured")
	}

	r := &Registry{collections: make(map[string]domain.Collection, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("collection name is empty")
		}
		if _, dup := r.collections[e.Name]; dup {
			return nil, fmt.Errorf("collection %s is configured twice", e.Name)
		}

		table := e.Table
		if table == "" {
			table = e.Name
		}
		if !physicalName.MatchString(table) {
			return nil, fmt.Errorf("collection %s: table %q is not a safe identifier", e.Name, table)
		}

		workflow, err := domain.LookupWorkflow(e.Workflow)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", e.Name, err)
		}

		r.collections[e.Name] = domain.Collection{
			Name:            e.Name,
			Table:           table,
			Workflow:        workflow,
			UniqueSourceURL: e.UniqueSourceURL,
		}
	}

	return r, nil
}

// Resolve returns the descriptor for name or an unknown_collection failure.
// An empty name resolves to DefaultName.
func (r *Registry) Resolve(name string) (domain.Collection, error) {
	if name == "" {
		name = DefaultName
	}
	if c, ok := r.collections[name]; ok {
		return c, nil
	}
	return domain.Collection{}, domain.NewError(domain.KindUnknownCollection,
		fmt.Sprintf("collection %q is not allowed", name), nil)
}

// Names lists the allow-listed collection names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
