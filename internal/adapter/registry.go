package adapter

import (
	"errors"
	"fmt"
	"sort"

	appLog "eventripper/internal/log"
	"eventripper/internal/model"
)

// Registry maps type tags to adapter constructors. Built-in adapters are
// selected by a source's Type, custom adapters by its Custom name.
type Registry struct {
	builtins map[string]Constructor
	customs  map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		builtins: make(map[string]Constructor),
		customs:  make(map[string]Constructor),
	}
}

// Register adds a built-in adapter. Registering a name twice panics.
func (r *Registry) Register(name string, ctor Constructor) {
	if _, exists := r.builtins[name]; exists {
		panic(fmt.Sprintf("adapter type '%s' already registered", name))
	}
	appLog.Debug("registering adapter type", "name", name)
	r.builtins[name] = ctor
}

// RegisterCustom adds a custom adapter bound to a source by name. Registering
// a name twice panics.
func (r *Registry) RegisterCustom(name string, ctor Constructor) {
	if _, exists := r.customs[name]; exists {
		panic(fmt.Sprintf("custom adapter '%s' already registered", name))
	}
	appLog.Debug("registering custom adapter", "name", name)
	r.customs[name] = ctor
}

// Resolve builds a fresh adapter for src. Failures are scoped to src: an
// unknown built-in type or a failing constructor is a *model.ConfigError, a
// missing or failing custom adapter is a *model.ImportError.
func (r *Registry) Resolve(src *model.SourceConfig, deps Deps) (Adapter, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	if src.Type != "" {
		ctor, ok := r.builtins[src.Type]
		if !ok {
			return nil, &model.ConfigError{Source: src.Name, Reason: fmt.Sprintf("unknown adapter type %q", src.Type)}
		}
		a, err := ctor(deps)
		if err != nil {
			return nil, &model.ConfigError{Source: src.Name, Reason: err.Error()}
		}
		return a, nil
	}

	ctor, ok := r.customs[src.Custom]
	if !ok {
		return nil, &model.ImportError{Source: src.Name, Err: errors.New("no custom adapter named " + src.Custom)}
	}
	a, err := ctor(deps)
	if err != nil {
		return nil, &model.ImportError{Source: src.Name, Err: err}
	}
	return a, nil
}

// Types returns the registered built-in type names, sorted.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Customs returns the registered custom adapter names, sorted.
func (r *Registry) Customs() []string {
	names := make([]string, 0, len(r.customs))
	for name := range r.customs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
