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

// Creation is the construction context of one logical registry request. The
// registry makes a fresh context per top-level call and the same context is
// threaded through all the nested dependency resolutions, which is how
// re-entrant creations are told apart from concurrent ones.
//
// A Creation must be used within one go-routine. A go-routine spawned during
// a construction must obtain its own context via Registry.Lenient().
type Creation struct {
	r       *registry
	id      uint64
	lenient bool
	ctx     context.Context

	// holdsLock tells that this context call tree owns the creation lock
	holdsLock bool

	// path contains the names being constructed on this call path, the
	// innermost is the last one
	path []string
}

// GetOrCreate returns the committed singleton stored under the name, or runs
// the factory to build it, as a nested request of this construction.
func (c *Creation) GetOrCreate(name string, f Factory) (interface{}, error) {
	return c.r.getOrCreate(c, name, f)
}

// Resolve builds the component by its registered definition as a nested
// request of this construction
func (c *Creation) Resolve(name string) (interface{}, error) {
	return c.r.resolve(c, name)
}

// Dependency resolves the component the dependent needs, recording the
// dependency edge. Custom DependencyResolver implementations must use it for
// every resolution which crosses a component boundary.
func (c *Creation) Dependency(dependent, name string) (interface{}, error) {
	c.r.graph.register(dependent, name)
	if obj, ok := c.r.cache.get(name, true); ok {
		return obj, nil
	}
	return c.r.resolve(c, name)
}

// Ctx returns the context the construction was started with
func (c *Creation) Ctx() context.Context {
	return c.ctx
}

// Name returns the name of the component being constructed, or an empty
// string for a context which is not inside a factory call.
func (c *Creation) Name() string {
	if len(c.path) == 0 {
		return ""
	}
	return c.path[len(c.path)-1]
}

func (c *Creation) push(name string) {
	c.path = append(c.path, name)
}

func (c *Creation) pop() {
	c.path = c.path[:len(c.path)-1]
}

func (c *Creation) pathCopy() []string {
	if len(c.path) == 0 {
		return nil
	}
	res := make([]string, len(c.path))
	copy(res, c.path)
	return res
}
