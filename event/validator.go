package event

import (
	"reflect"
	"sync"
)

// Validator is a registry of live objects. Objects register when they are
// created and unregister when they are closed; anything holding a reference
// that may have outlived its target asks IsValid before using it.
//
// Only pointers and channels can be registered; keys are compared by identity.
type Validator struct {
	mu   sync.RWMutex
	live map[any]struct{}
}

// NewValidator creates an empty registry.
func NewValidator() *Validator {
	return &Validator{live: make(map[any]struct{})}
}

// DefaultValidator is the process-wide registry used by Register, Unregister
// and IsValid.
var DefaultValidator = NewValidator()

// Register marks obj as live. Registering a nil or non-pointer value is a no-op.
func (v *Validator) Register(obj any) {
	if !registrable(obj) {
		return
	}
	v.mu.Lock()
	v.live[obj] = struct{}{}
	v.mu.Unlock()
}

// Unregister marks obj as gone.
func (v *Validator) Unregister(obj any) {
	if !registrable(obj) {
		return
	}
	v.mu.Lock()
	delete(v.live, obj)
	v.mu.Unlock()
}

// IsValid reports whether obj is registered. Nil is never valid.
func (v *Validator) IsValid(obj any) bool {
	if !registrable(obj) {
		return false
	}
	v.mu.RLock()
	_, ok := v.live[obj]
	v.mu.RUnlock()
	return ok
}

// Len returns the number of live objects.
func (v *Validator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.live)
}

func registrable(obj any) bool {
	if obj == nil {
		return false
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return !rv.IsNil()
	default:
		return false
	}
}

// Register marks obj as live in DefaultValidator.
func Register(obj any) { DefaultValidator.Register(obj) }

// Unregister removes obj from DefaultValidator.
func Unregister(obj any) { DefaultValidator.Unregister(obj) }

// IsValid reports whether obj is live in DefaultValidator.
func IsValid(obj any) bool { return DefaultValidator.IsValid(obj) }
