// Package registry provides the process-wide component lookup keyed by
// (category, type). Components register a factory that yields a struct
// pre-populated with defaults; construction strict-decodes user parameters
// over it and validates the result before any data is touched.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Factory produces a new component instance with its defaults applied.
type Factory func() any

// Registry maps (category, type) to component factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]map[string]Factory
	validate  *validator.Validate
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]map[string]Factory),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register adds a factory under (category, type). Registering the same key
// twice replaces the previous factory.
func (r *Registry) Register(category, typ string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[category]; !ok {
		r.factories[category] = make(map[string]Factory)
	}
	r.factories[category][typ] = factory
}

// Has reports whether a component is registered under (category, type).
func (r *Registry) Has(category, typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[category][typ]
	return ok
}

// Categories returns the registered category names, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for category := range r.factories {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Components returns the registered type names for a category, sorted.
func (r *Registry) Components(category string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types, ok := r.factories[category]
	if !ok {
		return nil, llmerrors.NewConfigError(category, "one of "+strings.Join(r.categoriesLocked(), ", "), category)
	}
	out := make([]string, 0, len(types))
	for typ := range types {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Registry) categoriesLocked() []string {
	out := make([]string, 0, len(r.factories))
	for category := range r.factories {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Construct builds the component registered under (category, type), decodes
// params strictly over its defaults, and validates the result. All failure
// modes surface as ConfigError.
func (r *Registry) Construct(category, typ string, params map[string]any) (any, error) {
	r.mu.RLock()
	types, ok := r.factories[category]
	if !ok {
		cats := r.categoriesLocked()
		r.mu.RUnlock()
		return nil, llmerrors.NewConfigError(category, "one of "+strings.Join(cats, ", "), category)
	}
	factory, ok := types[typ]
	if !ok {
		available := make([]string, 0, len(types))
		for t := range types {
			available = append(available, t)
		}
		sort.Strings(available)
		r.mu.RUnlock()
		return nil, llmerrors.NewConfigError(
			category+"."+typ, "one of "+strings.Join(available, ", "), typ)
	}
	r.mu.RUnlock()

	component := factory()
	if err := decodeParams(category+"."+typ, params, component); err != nil {
		return nil, err
	}
	if err := r.validateComponent(category+"."+typ, component); err != nil {
		return nil, err
	}
	if init, ok := component.(interface{ Init() error }); ok {
		if err := init.Init(); err != nil {
			return nil, llmerrors.WrapConfigError(category+"."+typ, err)
		}
	}
	return component, nil
}

// decodeParams round-trips params through YAML so stage structs reuse their
// configuration tags. Unknown keys are rejected.
func decodeParams(path string, params map[string]any, target any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return llmerrors.WrapConfigError(path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return llmerrors.WrapConfigError(path, err)
	}
	return nil
}

func (r *Registry) validateComponent(path string, component any) error {
	err := r.validate.Struct(component)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return llmerrors.WrapConfigError(path, err)
	}
	first := verrs[0]
	constraint := first.Tag()
	if first.Param() != "" {
		constraint += "=" + first.Param()
	}
	return llmerrors.NewConfigError(
		path+"."+strings.ToLower(first.Field()),
		constraint,
		fmt.Sprintf("%v", first.Value()),
	)
}

// Default is the process-wide registry used by the pipeline compiler.
var Default = New()

// Register adds a factory to the default registry.
func Register(category, typ string, factory Factory) {
	Default.Register(category, typ, factory)
}

// Construct builds a component from the default registry.
func Construct(category, typ string, params map[string]any) (any, error) {
	return Default.Construct(category, typ, params)
}

// Has reports whether the default registry knows (category, type).
func Has(category, typ string) bool {
	return Default.Has(category, typ)
}
