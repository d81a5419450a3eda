// Copyright 2021 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"

	"github.com/pkg/errors"
)

func (r *registry) Resolve(ctx context.Context, name string) (interface{}, error) {
	return r.resolve(r.newCreation(false, ctx), name)
}

// resolve builds the component by its registered definition. Committed
// singletons and early references of the ones in creation are returned as is.
func (r *registry) resolve(c *Creation, name string) (interface{}, error) {
	if obj, ok := r.cache.get(name, true); ok {
		return obj, nil
	}

	def := r.definition(name)
	if def == nil {
		return nil, errors.Wrapf(ErrNotRegistered, "could not resolve component %q", name)
	}

	// the depends-on constraints are ordering only, a circular chain of them
	// is never resolvable
	for _, dep := range def.DependsOn {
		if r.graph.dependsOn(dep, name) {
			return nil, &CircularError{Name: name,
				Path: append(c.pathCopy(), name, dep)}
		}
		r.graph.register(name, dep)
		if _, err := r.resolve(c, dep); err != nil {
			return nil, errors.WithMessage(err, "could not construct the depends-on dependency of "+name)
		}
	}

	if !def.Singleton {
		// non-singletons are not cached and are built per request
		return r.buildComponent(c, def)
	}

	return r.getOrCreate(c, name, func(cc *Creation) (interface{}, error) {
		return r.buildComponent(cc, def)
	})
}

// buildComponent performs the ordered construction steps of one component:
// instantiate, expose early (when eligible), populate, initialize, reconcile
// the early reference and register the disposer.
func (r *registry) buildComponent(c *Creation, def *Definition) (interface{}, error) {
	name := def.Name

	raw, err := r.instantiate(def)
	if err != nil {
		return nil, &CreationError{Name: name, Desc: def.Description,
			Err: errors.WithMessage(err, "instantiation failed")}
	}

	// expose the raw instance early, so a dependency which needs this very
	// component back observes a valid, if incomplete, reference instead of
	// recursing forever
	earlyExposure := def.Singleton && !r.cfg.DisableCircularReferences && r.cache.actuallyInCreation(name)
	if earlyExposure {
		r.logger.Debug("Eagerly exposing component ", name, " to allow resolving potential circular references")
		r.cache.registerEarlyFactory(name, func() interface{} {
			return r.earlyReference(name, raw)
		})
	}

	exposed := raw
	if err := r.populate(c, def, raw); err != nil {
		return nil, &CreationError{Name: name, Desc: def.Description,
			Err: errors.WithMessage(err, "dependency population failed")}
	}

	exposed, err = r.initialize(c, def, exposed)
	if err != nil {
		return nil, &CreationError{Name: name, Desc: def.Description, Err: err}
	}

	if earlyExposure {
		if early, ok := r.cache.get(name, false); ok {
			if identical(exposed, raw) {
				// nobody substituted a wrapper, the reference the dependents
				// captured is the one to commit
				exposed = early
			} else if !r.cfg.AllowRawInjection {
				// only the dependents which were actually constructed could
				// have captured the raw reference, the ordering-only ones
				// never saw it
				var deps []string
				for _, dn := range r.graph.getDependents(name) {
					if r.cache.isCommitted(dn) || r.cache.actuallyInCreation(dn) {
						deps = append(deps, dn)
					}
				}
				if len(deps) > 0 {
					return nil, &RawInjectionError{Name: name, Dependents: deps}
				}
			}
		}
	}

	r.registerDisposerIfNeeded(def, raw)
	return exposed, nil
}

func (r *registry) instantiate(def *Definition) (interface{}, error) {
	if r.cfg.Strategy != nil {
		return r.cfg.Strategy.Instantiate(def)
	}
	if def.New == nil {
		return nil, errors.Errorf("the definition of %q has no New function and no instantiation strategy is configured", def.Name)
	}
	return def.New()
}

// earlyReference runs the early-reference hooks over the raw instance. Called
// at most once per construction, by the first requester of the early reference.
func (r *registry) earlyReference(name string, raw interface{}) interface{} {
	obj := raw
	for _, h := range r.cfg.EarlyHooks {
		if wrapped := h.EarlyReference(obj, name); wrapped != nil {
			obj = wrapped
		}
	}
	return obj
}

func (r *registry) populate(c *Creation, def *Definition, obj interface{}) error {
	if r.cfg.Resolver != nil {
		return r.cfg.Resolver.Populate(c, def, obj)
	}
	return defaultResolver.Populate(c, def, obj)
}

// initialize runs the ordered initialization callbacks. The before- and
// after-init hooks may replace the instance, e.g. with a decorating wrapper.
func (r *registry) initialize(c *Creation, def *Definition, obj interface{}) (interface{}, error) {
	name := def.Name
	for _, h := range r.cfg.InitHooks {
		no, err := h.BeforeInit(obj, name)
		if err != nil {
			return nil, errors.WithMessage(err, "before-init hook failed")
		}
		if no != nil {
			obj = no
		}
	}

	if pc, ok := obj.(PostConstructor); ok {
		pc.PostConstruct()
	}
	if ini, ok := obj.(Initializer); ok {
		if err := ini.Init(c.ctx); err != nil {
			return nil, errors.WithMessage(err, "Init() failed")
		}
	}
	if def.InitFn != nil {
		if err := def.InitFn(obj); err != nil {
			return nil, errors.WithMessage(err, "the init function failed")
		}
	}

	for _, h := range r.cfg.InitHooks {
		no, err := h.AfterInit(obj, name)
		if err != nil {
			return nil, errors.WithMessage(err, "after-init hook failed")
		}
		if no != nil {
			obj = no
		}
	}
	return obj, nil
}

func (r *registry) registerDisposerIfNeeded(def *Definition, obj interface{}) {
	if !def.Singleton {
		return
	}
	if def.DisposeFn != nil {
		r.disp.register(def.Name, obj, DisposerFunc(def.DisposeFn))
		return
	}
	if _, ok := obj.(Shutdowner); ok {
		r.disp.register(def.Name, obj, shutdownerDisposer{})
	}
}
