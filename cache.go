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
	"fmt"
	"reflect"
	"sync"
)

type (
	// earlyFactory produces the early reference of a component which is in
	// creation. It is invoked at most once, by the first requester which
	// actually needs the early reference.
	earlyFactory func() interface{}

	// cache holds fully constructed singleton instances together with the
	// bookkeeping which exists only while a construction is in flight - early
	// references, pending early factories and the in-creation set.
	//
	// Reads of committed instances are lock-free, the commits are monotonic
	// and happen at most once per name. All the in-flight bookkeeping is
	// guarded by the cache lock.
	cache struct {
		// committed contains name -> instance pairs, no value is ever replaced there
		committed sync.Map

		lock       sync.Mutex
		early      map[string]interface{}
		factories  map[string]earlyFactory
		inCreation map[string]bool
		exclusions map[string]bool
		// registered keeps names of known singletons in registration order
		registered []string
		observers  map[string][]func(interface{})
	}
)

func newCache() *cache {
	c := new(cache)
	c.early = make(map[string]interface{})
	c.factories = make(map[string]earlyFactory)
	c.inCreation = make(map[string]bool)
	c.exclusions = make(map[string]bool)
	c.observers = make(map[string][]func(interface{}))
	return c
}

// getCommitted returns the committed instance for the name, if any. This is
// the fast path, it never takes the cache lock.
func (c *cache) getCommitted(name string) (interface{}, bool) {
	return c.committed.Load(name)
}

// get returns the committed instance for the name or, if the name is in
// creation, its early reference. When allowEarly is true and no early
// reference is materialized yet, the pending early factory (if any) is invoked
// once and its result is memoized.
func (c *cache) get(name string, allowEarly bool) (interface{}, bool) {
	if obj, ok := c.committed.Load(name); ok {
		return obj, true
	}

	c.lock.Lock()
	if !c.inCreation[name] {
		c.lock.Unlock()
		return nil, false
	}
	if obj, ok := c.early[name]; ok {
		c.lock.Unlock()
		return obj, true
	}
	if !allowEarly {
		c.lock.Unlock()
		return nil, false
	}
	// the commit could have happened while acquiring the lock
	if obj, ok := c.committed.Load(name); ok {
		c.lock.Unlock()
		return obj, true
	}
	f, ok := c.factories[name]
	if !ok {
		c.lock.Unlock()
		return nil, false
	}
	obj := f()
	c.early[name] = obj
	delete(c.factories, name)
	c.lock.Unlock()
	return obj, true
}

// registerEarlyFactory installs the pending early factory for a name which is
// in creation. Must be called at most once per construction attempt, before
// the dependency population begins.
func (c *cache) registerEarlyFactory(name string, f earlyFactory) {
	c.lock.Lock()
	c.factories[name] = f
	delete(c.early, name)
	c.addRegistered(name)
	c.lock.Unlock()
}

// commit moves the name to the committed state. Re-committing the same
// instance is tolerated as a benign race outcome, committing a different one
// is a DuplicateError. The early bookkeeping for the name is dropped and
// on-commit observers are fired.
func (c *cache) commit(name string, obj interface{}) error {
	if existing, loaded := c.committed.LoadOrStore(name, obj); loaded && !identical(existing, obj) {
		return &DuplicateError{Name: name}
	}

	c.lock.Lock()
	delete(c.factories, name)
	delete(c.early, name)
	c.addRegistered(name)
	obs := c.observers[name]
	delete(c.observers, name)
	c.lock.Unlock()

	for _, fn := range obs {
		fn(obj)
	}
	return nil
}

// onCommit registers an observer called when the name is committed. If the
// name is already committed the observer is fired right away.
func (c *cache) onCommit(name string, fn func(interface{})) {
	if obj, ok := c.committed.Load(name); ok {
		fn(obj)
		return
	}
	c.lock.Lock()
	c.observers[name] = append(c.observers[name], fn)
	c.lock.Unlock()
}

// remove drops all cache state for the name. Used on construction failure and
// on explicit disposal. The in-creation marker is intentionally left intact,
// it is cleared by afterCreation() of the owning construction.
func (c *cache) remove(name string) {
	c.committed.Delete(name)
	c.lock.Lock()
	delete(c.factories, name)
	delete(c.early, name)
	c.removeRegistered(name)
	c.lock.Unlock()
}

// beforeCreation marks the name as in creation. The false result means the
// name is in creation already, which signals either a concurrent construction
// or a non-resolvable circular one.
func (c *cache) beforeCreation(name string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.exclusions[name] {
		return true
	}
	if c.inCreation[name] {
		return false
	}
	c.inCreation[name] = true
	return true
}

// afterCreation clears the in-creation marker. Clearing a name which is not
// marked is a registry invariant violation.
func (c *cache) afterCreation(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.exclusions[name] {
		return
	}
	if !c.inCreation[name] {
		panic(fmt.Sprintf("component %q is not in creation, but afterCreation() is called for it", name))
	}
	delete(c.inCreation, name)
}

// isInCreation tells whether the name is in creation, honoring the exclusions
func (c *cache) isInCreation(name string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return !c.exclusions[name] && c.inCreation[name]
}

// actuallyInCreation ignores the exclusions, used by the early exposure check
func (c *cache) actuallyInCreation(name string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.inCreation[name]
}

func (c *cache) setExcluded(name string, excluded bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if excluded {
		c.exclusions[name] = true
	} else {
		delete(c.exclusions, name)
	}
}

func (c *cache) isCommitted(name string) bool {
	_, ok := c.committed.Load(name)
	return ok
}

// names returns known singleton names in their registration order
func (c *cache) names() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	res := make([]string, len(c.registered))
	copy(res, c.registered)
	return res
}

func (c *cache) count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.registered)
}

// inCreationNames returns a snapshot of the in-creation set
func (c *cache) inCreationNames() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	res := make([]string, 0, len(c.inCreation))
	for n := range c.inCreation {
		res = append(res, n)
	}
	return res
}

// clear drops the whole cache content. Must be called under the creation lock.
func (c *cache) clear() {
	c.committed.Range(func(k, v interface{}) bool {
		c.committed.Delete(k)
		return true
	})
	c.lock.Lock()
	c.early = make(map[string]interface{})
	c.factories = make(map[string]earlyFactory)
	c.observers = make(map[string][]func(interface{}))
	c.registered = c.registered[:0]
	c.lock.Unlock()
}

func (c *cache) addRegistered(name string) {
	for _, n := range c.registered {
		if n == name {
			return
		}
	}
	c.registered = append(c.registered, name)
}

func (c *cache) removeRegistered(name string) {
	for i, n := range c.registered {
		if n == name {
			c.registered = append(c.registered[:i], c.registered[i+1:]...)
			return
		}
	}
}

// identical reports whether a and b are the same object. Non-comparable
// values (maps, slices, funcs) are compared by their data pointer.
func identical(a, b interface{}) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !ta.Comparable() {
		switch ta.Kind() {
		case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
		}
		return false
	}
	return a == b
}
