// Package provider maps driver names to Senders and holds the helpers the
// concrete provider packages share.
package provider

import (
	"sort"
	"sync"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

// Registry maps a driver name to a Sender. Unknown drivers fail closed.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]notify.Sender
}

// Driver describes a registered sender
type Driver struct {
	Name    string         `json:"name"`
	Channel notify.Channel `json:"channel"`
}

// NewRegistry creates a registry holding the given senders
func NewRegistry(senders ...notify.Sender) (*Registry, error) {
	r := &Registry{senders: make(map[string]notify.Sender)}
	for _, s := range senders {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a sender under its name
func (r *Registry) Register(s notify.Sender) error {
	name := s.Name()
	if name == "" {
		return errs.Validation("sender name is required")
	}
	if !s.Channel().Valid() {
		return errs.Validation("sender %q has unknown channel %q", name, s.Channel())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.senders[name]; ok {
		return errs.Conflict("driver %q already registered", name)
	}
	r.senders[name] = s
	return nil
}

// Resolve returns the sender registered for driver
func (r *Registry) Resolve(driver string) (notify.Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[driver]
	if !ok {
		return nil, errs.UnsupportedDriver(driver)
	}
	return s, nil
}

// Drivers lists registered drivers sorted by name
func (r *Registry) Drivers() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.senders))
	for name, s := range r.senders {
		out = append(out, Driver{Name: name, Channel: s.Channel()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wrap replaces every registered sender with wrap(sender). The wrapper
// must keep the sender's name and channel.
func (r *Registry) Wrap(wrap func(notify.Sender) notify.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.senders {
		r.senders[name] = wrap(s)
	}
}
