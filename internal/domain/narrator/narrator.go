// Package narrator provides the Narrator domain entity and its registry.
package narrator

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrNotFound  = errors.New("narrator not found")
	ErrDuplicate = errors.New("duplicate narrator id")
	ErrInvalid   = errors.New("invalid narrator")
)

// Narrator is a reciter whose audio lives under URLPath on the audio host.
type Narrator struct {
	ID      string // Stable key used in selections
	Name    string // Display name
	URLPath string // Path segment on the audio host
}

// Defaults returns the built-in narrators.
func Defaults() []Narrator {
	return []Narrator{
		{ID: "mishary", Name: "Mishary", URLPath: "Alafasy_128kbps"},
		{ID: "hudhaify", Name: "Hudhaify", URLPath: "Hudhaify_128kbps"},
		{ID: "husary", Name: "Husary", URLPath: "Husary_128kbps"},
	}
}

// Registry is an immutable set of narrators keyed by ID.
type Registry struct {
	byID  map[string]Narrator
	order []string
}

// NewRegistry builds a registry, rejecting empty fields and duplicate IDs.
func NewRegistry(narrators []Narrator) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Narrator, len(narrators)),
		order: make([]string, 0, len(narrators)),
	}
	for _, n := range narrators {
		if n.ID == "" || n.URLPath == "" {
			return nil, errors.Wrapf(ErrInvalid, "id=%q url_path=%q", n.ID, n.URLPath)
		}
		if _, exists := r.byID[n.ID]; exists {
			return nil, errors.Wrapf(ErrDuplicate, "%q", n.ID)
		}
		if n.Name == "" {
			n.Name = n.ID
		}
		r.byID[n.ID] = n
		r.order = append(r.order, n.ID)
	}
	return r, nil
}

// Get returns the narrator with the given ID.
func (r *Registry) Get(id string) (Narrator, error) {
	n, ok := r.byID[id]
	if !ok {
		return Narrator{}, errors.Wrapf(ErrNotFound, "%q", id)
	}
	return n, nil
}

// List returns narrators in registration order.
func (r *Registry) List() []Narrator {
	result := make([]Narrator, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

// IDs returns the sorted narrator IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}
