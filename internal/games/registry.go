package games

import (
	"fmt"
	"sort"
	"sync"
)

// Info describes a module in the lobby.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MinPlayers  int    `json:"minPlayers"`
}

// Factory builds a fresh module instance for one round.
type Factory func() Module

// Registry maps game ids to module factories. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	infos   map[string]Info
	factory map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		infos:   make(map[string]Info),
		factory: make(map[string]Factory),
	}
}

// Register adds a module under info.ID, replacing any earlier one.
func (r *Registry) Register(info Info, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[info.ID] = info
	r.factory[info.ID] = f
}

// Has reports whether id can be voted for.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factory[id]
	return ok
}

// New builds a fresh instance of the module registered under id.
func (r *Registry) New(id string) (Module, error) {
	r.mu.RLock()
	f, ok := r.factory[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, id)
	}
	return f(), nil
}

// List returns every registered module ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
