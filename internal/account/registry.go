package account

import (
	"sort"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
)

// Registry is the immutable set of configured accounts, indexed by id and
// kept in id order so filtered views are deterministic. Account pointers are
// shared; per-account mutable state synchronizes itself.
type Registry struct {
	byID  map[string]*Account
	order []*Account
}

// NewRegistry builds the registry from validated configuration.
func NewRegistry(cfgs []config.Account) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]*Account, len(cfgs)),
		order: make([]*Account, 0, len(cfgs)),
	}
	for i := range cfgs {
		a, err := New(cfgs[i])
		if err != nil {
			return nil, err
		}
		r.byID[a.ID] = a
		r.order = append(r.order, a)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i].ID < r.order[j].ID })
	return r, nil
}

// Get looks up an account by id.
func (r *Registry) Get(id string) (*Account, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns every account in id order.
func (r *Registry) All() []*Account {
	out := make([]*Account, len(r.order))
	copy(out, r.order)
	return out
}

// ForPlatform returns the accounts belonging to one platform, in id order.
func (r *Registry) ForPlatform(p Platform) []*Account {
	var out []*Account
	for _, a := range r.order {
		if a.Platform == p {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of configured accounts.
func (r *Registry) Len() int {
	return len(r.order)
}
