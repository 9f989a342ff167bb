// Package models holds the chat models a client may select. Each model
// resolves to a LangGraph assistant and the configurables passed with the run.
package models

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// DefaultAssistantID is the graph name LangGraph deployments use out of the box.
const DefaultAssistantID = "agent"

// ErrUnknownModel is returned by Get for ids that were never registered.
var ErrUnknownModel = errors.New("unknown model")

// Model is a selectable chat model.
type Model struct {
	ID           string         `json:"id" yaml:"-"`
	Label        string         `json:"label" yaml:"label"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	AssistantID  string         `json:"-" yaml:"assistant_id"`
	Configurable map[string]any `json:"-" yaml:"configurable"`
}

// RunConfigurable returns the configurables for one run: the model's own
// values plus "model" set to its id. The returned map is a copy.
func (m *Model) RunConfigurable() map[string]any {
	out := make(map[string]any, len(m.Configurable)+1)
	maps.Copy(out, m.Configurable)
	out["model"] = m.ID
	return out
}

// Registry is a thread-safe set of models keyed by id.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds or replaces a model. An empty assistant id falls back to
// DefaultAssistantID and an empty label to the id.
func (r *Registry) Register(m Model) error {
	if m.ID == "" {
		return fmt.Errorf("register model: empty id")
	}
	if m.AssistantID == "" {
		m.AssistantID = DefaultAssistantID
	}
	if m.Label == "" {
		m.Label = m.ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = &m
	return nil
}

// Get returns the model with the given id.
func (r *Registry) Get(id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m, nil
}

// List returns all models sorted by id.
func (r *Registry) List() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
