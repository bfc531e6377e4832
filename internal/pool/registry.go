package pool

import "fmt"

// Registry holds pools in registration order and indexes workers by id.
type Registry struct {
	pools   map[string]*Pool
	order   []string
	workers map[string]*Worker
}

func NewRegistry() *Registry {
	return &Registry{
		pools:   make(map[string]*Pool),
		workers: make(map[string]*Worker),
	}
}

// Register creates a pool from cfg. An id that is already registered is
// rejected and nothing changes.
func (r *Registry) Register(cfg Config, now float64) (*Pool, error) {
	if _, exists := r.pools[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, cfg.ID)
	}
	p, err := New(cfg, now)
	if err != nil {
		return nil, err
	}
	r.add(p)
	return p, nil
}

// Adopt installs an already-built pool, as when restoring a snapshot.
func (r *Registry) Adopt(p *Pool) error {
	if _, exists := r.pools[p.Config.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, p.Config.ID)
	}
	r.add(p)
	return nil
}

func (r *Registry) add(p *Pool) {
	r.pools[p.Config.ID] = p
	r.order = append(r.order, p.Config.ID)
	for _, w := range p.Workers {
		r.workers[w.ID] = w
	}
}

func (r *Registry) Get(id string) (*Pool, bool) {
	p, ok := r.pools[id]
	return p, ok
}

func (r *Registry) Worker(id string) (*Worker, bool) {
	w, ok := r.workers[id]
	return w, ok
}

// Pools returns pools in registration order.
func (r *Registry) Pools() []*Pool {
	out := make([]*Pool, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.pools[id])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}
