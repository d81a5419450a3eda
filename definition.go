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
	"encoding/json"
	"fmt"

	"github.com/mohae/deepcopy"
)

// Definition is the declarative metadata describing how to build one
// component. Definitions are registered in the Registry and drive the
// Resolve() construction.
type Definition struct {
	// Name uniquely identifies the component within one registry
	Name string

	// Singleton components are constructed once and shared, non-singleton
	// ones are built on every Resolve() call and are not cached. True by
	// default for definitions made by NewDefinition().
	Singleton bool

	// DependsOn lists components which must be fully constructed before this
	// one. This is an ordering constraint only, circular DependsOn chains are
	// always an error.
	DependsOn []string

	// Properties are applied to the raw instance on the population phase
	Properties map[string]interface{}

	// Description is attached to the construction errors to point at the
	// definition origin (a file name, a config section etc.)
	Description string

	// New produces the raw instance, used by the default instantiation strategy
	New func() (interface{}, error) `json:"-"`

	// InitFn, when provided, runs on the initialization phase after the
	// Initializer interface of the instance (if implemented).
	InitFn func(obj interface{}) error `json:"-"`

	// DisposeFn, when provided, is registered as the component disposer
	DisposeFn func(obj interface{}) error `json:"-"`
}

// NewDefinition creates a singleton definition for the name built by newFn
func NewDefinition(name string, newFn func() (interface{}, error)) *Definition {
	return &Definition{Name: name, Singleton: true, New: newFn}
}

// Check tests the definition consistency
func (d *Definition) Check() error {
	if d.Name == "" {
		return fmt.Errorf("invalid definition: Name must not be empty")
	}
	if !d.Singleton && d.DisposeFn != nil {
		return fmt.Errorf("invalid definition %q: DisposeFn makes no sense for a non-singleton component, "+
			"the registry does not track their instances", d.Name)
	}
	for _, dep := range d.DependsOn {
		if dep == d.Name {
			return fmt.Errorf("invalid definition %q: the component cannot declare DependsOn on itself", d.Name)
		}
	}
	return nil
}

// Copy returns a copy of the definition, which is safe to modify
func (d *Definition) Copy() *Definition {
	res := new(Definition)
	*res = *d
	if len(d.DependsOn) != 0 {
		res.DependsOn = deepcopy.Copy(d.DependsOn).([]string)
	}
	if len(d.Properties) != 0 {
		res.Properties = deepcopy.Copy(d.Properties).(map[string]interface{})
	}
	return res
}

func (d *Definition) String() string {
	b, _ := json.Marshal(d)
	return string(b)
}
