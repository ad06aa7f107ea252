package sqlobject

import (
	"fmt"
	"sort"
	"sync"
)

// BinderFactory builds the Binder for one parameter. It runs once per
// contract build, never per call.
type BinderFactory interface {
	Build(spec BindSpec) (Binder, error)
}

// BinderFactoryFunc adapts a function to BinderFactory.
type BinderFactoryFunc func(spec BindSpec) (Binder, error)

// Build implements BinderFactory.
func (f BinderFactoryFunc) Build(spec BindSpec) (Binder, error) { return f(spec) }

var builtinFactories = map[Strategy]BinderFactory{
	StrategyNamed: BinderFactoryFunc(func(spec BindSpec) (Binder, error) {
		return namedBinder{name: spec.Name}, nil
	}),
	StrategyPositional: BinderFactoryFunc(func(spec BindSpec) (Binder, error) {
		return positionalBinder{position: spec.Position, alias: spec.Sole}, nil
	}),
	StrategyBean: BinderFactoryFunc(func(spec BindSpec) (Binder, error) {
		return beanBinder{prefix: spec.Name}, nil
	}),
}

// Registry resolves bind specs to binder factories. The built-in strategies
// are always available; custom strategies are registered by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BinderFactory
}

// NewRegistry creates a registry with no custom factories.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BinderFactory)}
}

// DefaultRegistry is used by contracts built without WithRegistry.
var DefaultRegistry = NewRegistry()

// Register adds factory under name. Names are unique within a registry.
func (r *Registry) Register(name string, factory BinderFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("sqlobject: binder factory needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("sqlobject: binder factory %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// RegisterBinder registers a factory that returns binder for every spec.
func (r *Registry) RegisterBinder(name string, binder Binder) error {
	if binder == nil {
		return fmt.Errorf("sqlobject: binder %q is nil", name)
	}
	return r.Register(name, BinderFactoryFunc(func(BindSpec) (Binder, error) { return binder, nil }))
}

// Names lists the registered custom factory names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the factory serving spec. An unknown custom factory name
// is an *Error of KindConfiguration.
func (r *Registry) Resolve(spec BindSpec) (BinderFactory, error) {
	if spec.Strategy != StrategyCustom {
		f, ok := builtinFactories[spec.Strategy]
		if !ok {
			return nil, configError("", "unknown bind strategy %s", spec.Strategy)
		}
		return f, nil
	}
	r.mu.RLock()
	f, ok := r.factories[spec.Factory]
	r.mu.RUnlock()
	if !ok {
		return nil, configError("", "no binder factory registered as %q", spec.Factory)
	}
	return f, nil
}

// binderFor resolves and builds the binder of spec.
func (r *Registry) binderFor(spec BindSpec) (Binder, error) {
	f, err := r.Resolve(spec)
	if err != nil {
		return nil, err
	}
	b, err := f.Build(spec)
	if err != nil {
		return nil, newError(KindConfiguration, "", err, "binder factory for parameter %d", spec.Index)
	}
	if b == nil {
		return nil, configError("", "binder factory for parameter %d returned nil", spec.Index)
	}
	return b, nil
}
