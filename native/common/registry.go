package common

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ServiceKey names a component in the Registry.
type ServiceKey string

const (
	KeyAuthorization ServiceKey = "authorization"
	KeyReservations  ServiceKey = "reservations"
	KeyVerifier      ServiceKey = "intent-verifier"
	KeyLedger        ServiceKey = "ledger"
	KeyPenalties     ServiceKey = "penalty-ledger"
	KeyOrders        ServiceKey = "order-registry"
	KeyRisk          ServiceKey = "risk-evaluator"
	KeyPayout        ServiceKey = "payout-distributor"
	KeyViewCache     ServiceKey = "view-cache"
)

var (
	ErrServiceMissing   = errors.New("registry: service not registered")
	ErrServiceDuplicate = errors.New("registry: service already registered")
	ErrServiceType      = errors.New("registry: service has unexpected type")
)

// Registry is a typed service locator populated at startup. Validate should be
// called once wiring is complete and before any traffic is accepted.
type Registry struct {
	mu       sync.RWMutex
	services map[ServiceKey]any
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[ServiceKey]any)}
}

// Register binds handle to key. Keys can only be bound once.
func (r *Registry) Register(key ServiceKey, handle any) error {
	if key == "" || handle == nil {
		return fmt.Errorf("registry: key and handle are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceDuplicate, key)
	}
	r.services[key] = handle
	return nil
}

// MustRegister panics when Register fails.
func (r *Registry) MustRegister(key ServiceKey, handle any) {
	if err := r.Register(key, handle); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(key ServiceKey) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.services[key]
	return handle, ok
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []ServiceKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]ServiceKey, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Validate reports every required key that is not registered.
func (r *Registry) Validate(required ...ServiceKey) error {
	var errs []error
	for _, key := range required {
		if _, ok := r.lookup(key); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrServiceMissing, key))
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the handle registered under key as T.
func Resolve[T any](r *Registry, key ServiceKey) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("%w: %s", ErrServiceMissing, key)
	}
	handle, ok := r.lookup(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrServiceMissing, key)
	}
	typed, ok := handle.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrServiceType, key, handle)
	}
	return typed, nil
}
