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
)

// Config defines the registry settings and the collaborator hooks
type Config struct {
	// DisableCircularReferences turns off the early exposure of singletons
	// which are in creation, so circular references between them are rejected
	// instead of being resolved. The zero value keeps the resolution on.
	DisableCircularReferences bool

	// AllowRawInjection tolerates the situation when an early (raw) reference
	// of a component was captured by its dependents, but the initialization
	// eventually wrapped the component into a different instance. Disabled by
	// default, such situation is reported as RawInjectionError.
	AllowRawInjection bool

	// Strategy instantiates raw component instances. The default strategy
	// calls Definition.New.
	Strategy InstantiationStrategy `json:"-"`

	// Resolver populates component dependencies. The default resolver applies
	// the definition properties and the `inject` struct tags.
	Resolver DependencyResolver `json:"-"`

	// EarlyHooks are applied, in order, to a raw instance when it is exposed
	// early for breaking a circular reference.
	EarlyHooks []EarlyReferenceHook `json:"-"`

	// InitHooks surround the initialization phase of every component
	InitHooks []InitHook `json:"-"`
}

// NewDefaultConfig returns the registry settings used when no overrides are
// provided. The defaults are the zero values: circular references are
// resolved, the raw injection is rejected.
func NewDefaultConfig() *Config {
	return new(Config)
}

// Apply overwrites the config by the values from other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	c.DisableCircularReferences = other.DisableCircularReferences
	c.AllowRawInjection = other.AllowRawInjection
	if other.Strategy != nil {
		c.Strategy = other.Strategy
	}
	if other.Resolver != nil {
		c.Resolver = other.Resolver
	}
	if len(other.EarlyHooks) != 0 {
		c.EarlyHooks = append([]EarlyReferenceHook{}, other.EarlyHooks...)
	}
	if len(other.InitHooks) != 0 {
		c.InitHooks = append([]InitHook{}, other.InitHooks...)
	}
}

// Check tests the config consistency
func (c *Config) Check() error {
	for i, h := range c.EarlyHooks {
		if h == nil {
			return fmt.Errorf("invalid config: EarlyHooks[%d] is nil", i)
		}
	}
	for i, h := range c.InitHooks {
		if h == nil {
			return fmt.Errorf("invalid config: InitHooks[%d] is nil", i)
		}
	}
	return nil
}

func (c *Config) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}
