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
)

type (
	// Factory builds a component instance. The construction context must be
	// used for requesting other components from within the factory, so the
	// registry can see that the nested requests belong to the same logical
	// call path.
	Factory func(c *Creation) (interface{}, error)

	// InstantiationStrategy obtains a raw, unpopulated instance for a
	// definition. The default strategy invokes Definition.New.
	InstantiationStrategy interface {
		Instantiate(def *Definition) (interface{}, error)
	}

	// DependencyResolver populates the declared dependencies of a raw
	// instance. The default resolver applies the definition properties via
	// mapstructure and injects components into the struct fields tagged with
	// `inject:"name"`. Every resolution which crosses a component boundary
	// must go through Creation.Dependency(), so the dependency edge is
	// recorded.
	DependencyResolver interface {
		Populate(c *Creation, def *Definition, obj interface{}) error
	}

	// EarlyReferenceHook may substitute a wrapper (e.g. a proxy) for the raw
	// instance when it is exposed early to break a circular reference. The
	// hooks are applied in their registration order.
	EarlyReferenceHook interface {
		EarlyReference(obj interface{}, name string) interface{}
	}

	// InitHook surrounds the initialization of a component. Both calls may
	// return a replacement instance (e.g. a decorating wrapper); returning
	// nil keeps the current one.
	InitHook interface {
		BeforeInit(obj interface{}, name string) (interface{}, error)
		AfterInit(obj interface{}, name string) (interface{}, error)
	}

	// PostConstructor components are notified right after their dependencies
	// are populated, before the init phase. PostConstruct() is supposed to be
	// quick and must not block the calling go-routine.
	PostConstructor interface {
		PostConstruct()
	}

	// Initializer components acquire their resources in Init(), which runs
	// after the population phase. A non-nil result fails the whole
	// construction of the component.
	Initializer interface {
		Init(ctx context.Context) error
	}

	// Shutdowner components release their resources in Shutdown(). The
	// registry registers a disposer for every singleton which implements the
	// interface.
	Shutdowner interface {
		Shutdown()
	}

	// Disposer is a teardown callback invoked exactly once per component at
	// the registry shutdown or on the explicit component removal.
	Disposer interface {
		Destroy(obj interface{}) error
	}

	// DisposerFunc adapts a plain function to the Disposer interface
	DisposerFunc func(obj interface{}) error
)

// Destroy is a part of Disposer
func (f DisposerFunc) Destroy(obj interface{}) error {
	return f(obj)
}

// shutdownerDisposer bridges the Shutdowner components to the disposal
// coordinator.
type shutdownerDisposer struct{}

func (shutdownerDisposer) Destroy(obj interface{}) error {
	obj.(Shutdowner).Shutdown()
	return nil
}
