package stream

import (
	"strings"
	"sync"
)

// Key identifies one subscription registration.
type Key struct {
	Channel   string
	Symbol    string
	Timeframe string
}

// NormalizeKey trims and lowercases the channel so venue spellings collapse.
func NormalizeKey(channel, symbol, timeframe string) Key {
	return Key{
		Channel:   strings.ToLower(strings.TrimSpace(channel)),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Timeframe: strings.TrimSpace(timeframe),
	}
}

// Registry maps (channel, symbol, timeframe) to callback lists. Many callbacks
// may share one key; registrations are append-only until Clear on disconnect.
// There is no partial unsubscribe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Key][]func(any)
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key][]func(any))}
}

// Add appends a callback for the key and reports whether the key is new,
// i.e. whether the adapter still needs to send a venue subscription for it.
func (r *Registry) Add(key Key, fn func(any)) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.handlers[key]
	r.handlers[key] = append(r.handlers[key], fn)
	return !existed
}

// Dispatch delivers payload to every callback registered for the key and
// returns the number of callbacks invoked.
func (r *Registry) Dispatch(key Key, payload any) int {
	r.mu.RLock()
	callbacks := r.handlers[key]
	r.mu.RUnlock()
	for _, fn := range callbacks {
		fn(payload)
	}
	return len(callbacks)
}

// Keys returns every registered key, for subscription replay.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.handlers))
	for key := range r.handlers {
		out = append(out, key)
	}
	return out
}

// Len reports the number of distinct keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear drops every registration; called on adapter disconnect.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[Key][]func(any))
	r.mu.Unlock()
}
