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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jrivets/log4g"
	"github.com/pkg/errors"
)

type (
	// Registry is the container which owns the instance cache, the dependency
	// graph and the creation coordination state. Use New() to create an
	// instance. All the methods are safe for calling from multiple
	// go-routines.
	Registry interface {
		// Register adds the component definition. The definition is copied,
		// so the caller cannot affect the registry by mutating it afterwards.
		Register(def *Definition) error

		// RegisterInstance commits an externally constructed singleton under
		// the name. Fails if the name is already bound.
		RegisterInstance(name string, obj interface{}) error

		// Resolve returns the component built by its registered definition,
		// constructing it, together with its dependencies, if needed
		Resolve(ctx context.Context, name string) (interface{}, error)

		// GetOrCreate returns the committed singleton stored under the name,
		// or runs the factory to build, commit and return it. At most one
		// construction of a name runs at a time, other requesters wait for
		// its result.
		GetOrCreate(name string, f Factory) (interface{}, error)

		// Lenient returns a construction context exempted from the creation
		// lock. Intended for go-routines spawned during another component
		// construction, which otherwise could deadlock against the lock holder.
		Lenient() *Creation

		// Get returns the committed instance or, if the name is in creation,
		// its early reference
		Get(name string) (interface{}, bool)

		// IsCommitted tells whether the final instance is stored under the name
		IsCommitted(name string) bool

		// IsInCreation tells whether a construction of the name is in flight
		IsInCreation(name string) bool

		// SetInCreationExcluded excludes the name from the in-creation
		// checks, so its re-entrant construction is not reported as circular
		SetInCreationExcluded(name string, excluded bool)

		// OnCommit registers the observer called when the name is committed
		OnCommit(name string, fn func(obj interface{}))

		// RegisterDependency records the "dependent depends on dependency" edge
		RegisterDependency(dependent, dependency string)

		// RegisterContained records the inner-outer component relation, the
		// outer component is destroyed before the inner one
		RegisterContained(inner, outer string)

		// Dependents returns names of the components which depend on the name
		Dependents(name string) []string

		// Dependencies returns names of the components the name depends on
		Dependencies(name string) []string

		// DependsOn answers whether name transitively depends on dependency
		DependsOn(name, dependency string) bool

		// RegisterDisposer attaches the teardown callback for the component
		RegisterDisposer(name string, obj interface{}, d Disposer)

		// Names returns the known singleton names in their registration order
		Names() []string

		// Count returns the number of the known singletons
		Count() int

		// Remove destroys the component individually - its dependents first,
		// then the component itself - and drops all its cache state
		Remove(name string)

		// DestroyAll tears all the components down in dependency-safe order.
		// After the call the registry rejects new creations with ShutdownError.
		DestroyAll()

		// Stats returns the registry counters snapshot
		Stats() Stats
	}

	registry struct {
		logger log4g.Logger
		cfg    *Config
		id     string

		cache *cache
		graph *depGraph
		disp  *disposal

		dlock sync.Mutex
		defs  map[string]*Definition

		clock *creationLock
		down  int32

		// lenient creation bookkeeping. It has its own lock and a condition
		// variable, so the lenient path never contends with the creation lock
		// it exists to avoid.
		lnLock sync.Mutex
		lnDone *sync.Cond
		// lnCreations contains names being built outside of the creation lock
		lnCreations map[string]bool
		// lnWaiters maps a waiting construction context to the one it is blocked by
		lnWaiters map[uint64]uint64
		// creators maps a name to the construction context running its factory
		creators map[string]uint64

		slock      sync.Mutex
		suppressed *errRing

		stHits     uint64
		stCreated  uint64
		stCommits  uint64
		stDisposed uint64
	}
)

var lastCreationId uint64

// nextCreationId makes a process-unique construction context identifier
func nextCreationId() uint64 {
	return atomic.AddUint64(&lastCreationId, 1)
}

// New creates a Registry with the config provided. Nil cfg means defaults.
func New(cfg *Config) Registry {
	c := NewDefaultConfig()
	c.Apply(cfg)

	r := new(registry)
	r.logger = log4g.GetLogger("registry")
	r.cfg = c
	r.id = uuid.New().String()[:8]
	r.cache = newCache()
	r.graph = newDepGraph()
	r.defs = make(map[string]*Definition)
	r.clock = newCreationLock()
	r.lnDone = sync.NewCond(&r.lnLock)
	r.lnCreations = make(map[string]bool)
	r.lnWaiters = make(map[uint64]uint64)
	r.creators = make(map[string]uint64)
	r.disp = newDisposal(r.logger)
	r.logger.Info("New registry ", r.id, " is created with config ", c)
	return r
}

func (r *registry) newCreation(lenient bool, ctx context.Context) *Creation {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Creation{r: r, id: nextCreationId(), lenient: lenient, ctx: ctx}
}

func (r *registry) GetOrCreate(name string, f Factory) (interface{}, error) {
	return r.getOrCreate(r.newCreation(false, nil), name, f)
}

func (r *registry) Lenient() *Creation {
	return r.newCreation(true, nil)
}

// getOrCreate implements the get-or-create protocol for one singleton name.
//
// The fast path is a lock-free read of the committed map. On a miss the
// creation lock is acquired (or, for a lenient construction context, skipped
// when busy), the name is marked as in-creation, the factory runs, and the
// result is committed. A conflicting in-creation marker means either a
// concurrent construction (then this request waits for its outcome) or a
// genuine circular creation (then it fails fast).
func (r *registry) getOrCreate(c *Creation, name string, f Factory) (interface{}, error) {
	if name == "" {
		return nil, errors.Errorf("component name must not be empty")
	}
	if obj, ok := r.cache.getCommitted(name); ok {
		atomic.AddUint64(&r.stHits, 1)
		return obj, nil
	}

	// the creation lock is re-entrant per construction context: a nested
	// request made from a factory of the lock holder proceeds under the same
	// acquisition
	acquiredHere := false
	lenientMarked := false
	if !c.holdsLock && r.clock.tryLock() {
		c.holdsLock = true
		acquiredHere = true
	}
	locked := c.holdsLock
	defer func() {
		if acquiredHere {
			c.holdsLock = false
			r.clock.unlock()
		}
		r.lnLock.Lock()
		if lenientMarked {
			delete(r.lnCreations, name)
		}
		for w, b := range r.lnWaiters {
			if b == c.id {
				delete(r.lnWaiters, w)
			}
		}
		r.lnDone.Broadcast()
		r.lnLock.Unlock()
	}()

	obj, ok := r.cache.getCommitted(name)
	if ok {
		return obj, nil
	}

	if !locked {
		if c.lenient {
			// proceed outside of the creation lock. The thread-safe exposure
			// is still guaranteed by the in-creation set, the construction is
			// just not serialized with unrelated ones.
			r.lnLock.Lock()
			r.lnCreations[name] = true
			r.lnLock.Unlock()
			lenientMarked = true
			r.logger.Info("Obtaining component ", name, " leniently, while the creation lock is held for ", r.lockedNames())
		} else {
			r.clock.lock()
			c.holdsLock = true
			acquiredHere = true
			locked = true
			// the instance could appear while waiting for the lock
			if obj, ok := r.cache.getCommitted(name); ok {
				return obj, nil
			}
		}
	}

	if atomic.LoadInt32(&r.down) != 0 {
		return nil, &ShutdownError{Name: name}
	}

	if !r.cache.beforeCreation(name) {
		obj, proceed, err := r.onCreationConflict(c, name, &locked)
		if locked && !c.holdsLock {
			// the conflict handler acquired the lock for this context
			c.holdsLock = true
			acquiredHere = true
		}
		if !proceed {
			return obj, err
		}
	}

	recordSuppressed := false
	if locked {
		r.slock.Lock()
		if r.suppressed == nil {
			r.suppressed = newErrRing(maxSuppressedErrors)
			recordSuppressed = true
		}
		r.slock.Unlock()
	}

	newSingleton := false
	obj, ok = r.cache.getCommitted(name)
	var err error
	if ok {
		r.cache.afterCreation(name)
	} else {
		r.lnLock.Lock()
		r.creators[name] = c.id
		r.lnLock.Unlock()

		// the in-creation marker must go away even if the factory panics,
		// otherwise concurrent requesters of the name wait forever
		func() {
			defer func() {
				r.lnLock.Lock()
				delete(r.creators, name)
				r.lnLock.Unlock()
				r.cache.afterCreation(name)
			}()
			obj, err = r.runFactory(c, name, f)
		}()
		newSingleton = err == nil
	}

	if err != nil {
		// a concurrent lenient attempt could have won the name meanwhile
		if winner, ok := r.cache.getCommitted(name); ok {
			r.onSuppressed(err)
			clearRecorded(r, recordSuppressed)
			return winner, nil
		}
		r.cache.remove(name)
		ce := wrapCreationErr(err, name, r.definitionDesc(name))
		if ce != nil && recordSuppressed {
			ce.Related = r.takeSuppressed()
		}
		if ce != nil {
			err = ce
		} else {
			clearRecorded(r, recordSuppressed)
		}
		return nil, err
	}
	clearRecorded(r, recordSuppressed)

	if newSingleton {
		if cerr := r.cache.commit(name, obj); cerr != nil {
			// the name was concurrently committed by another attempt, the
			// first committed instance wins
			if winner, ok := r.cache.getCommitted(name); ok {
				return winner, nil
			}
			return nil, cerr
		}
		atomic.AddUint64(&r.stCommits, 1)
		r.logger.Debug("Committed the shared instance of component ", name)
	}
	return obj, nil
}

// onCreationConflict handles the case when the name is already marked as
// in-creation. The construction waits for the concurrent outcome: the
// committed winner is returned, a failed attempt hands the construction over
// to this caller (the true proceed result), and a cycle between the builder
// and this context is reported as the circular creation.
func (r *registry) onCreationConflict(c *Creation, name string, locked *bool) (interface{}, bool, error) {
	cirErr := &CircularError{Name: name, Path: c.pathCopy()}

	r.lnLock.Lock()
	for {
		if obj, ok := r.cache.getCommitted(name); ok {
			r.lnLock.Unlock()
			return obj, false, nil
		}
		blocker, hasBlocker := r.creators[name]
		if hasBlocker && (blocker == c.id || r.waitsOn(blocker, c.id)) {
			// the builder of the name transitively waits for this very
			// context, waiting would deadlock
			r.lnLock.Unlock()
			return nil, false, cirErr
		}
		if !r.cache.actuallyInCreation(name) {
			// the concurrent attempt is over and the name is still absent,
			// take the construction over
			break
		}
		if hasBlocker {
			r.lnWaiters[c.id] = blocker
		}
		r.lnDone.Wait()
		if hasBlocker {
			delete(r.lnWaiters, c.id)
		}
	}
	r.lnLock.Unlock()

	if !*locked {
		r.clock.lock()
		*locked = true
	}
	if obj, ok := r.cache.getCommitted(name); ok {
		return obj, false, nil
	}
	if !r.cache.beforeCreation(name) {
		return nil, false, cirErr
	}
	return nil, true, nil
}

// waitsOn walks the waiter-blocker map transitively and answers whether the
// start context is blocked, directly or not, by the target one.
func (r *registry) waitsOn(start, target uint64) bool {
	cur, ok := r.lnWaiters[start]
	for ok {
		if cur == target {
			return true
		}
		cur, ok = r.lnWaiters[cur]
	}
	return false
}

func (r *registry) runFactory(c *Creation, name string, f Factory) (interface{}, error) {
	c.push(name)
	defer c.pop()

	atomic.AddUint64(&r.stCreated, 1)
	r.logger.Debug("Creating the shared instance of component ", name)
	obj, err := f(c)
	if err == nil && obj == nil {
		err = errors.Errorf("the factory of component %q returned nil instance", name)
	}
	return obj, err
}

// onSuppressed archives an error of a creation attempt which was superseded
// by a concurrently successful one.
func (r *registry) onSuppressed(err error) {
	r.slock.Lock()
	if r.suppressed != nil {
		r.suppressed.add(err)
	}
	r.slock.Unlock()
}

func (r *registry) takeSuppressed() []error {
	r.slock.Lock()
	defer r.slock.Unlock()
	if r.suppressed == nil {
		return nil
	}
	res := r.suppressed.all()
	r.suppressed = nil
	return res
}

// wrapCreationErr wraps a construction failure with the component context.
// Typed registry errors and already-wrapped failures of the same name pass
// through untouched (then the nil result is returned).
func wrapCreationErr(err error, name, desc string) *CreationError {
	switch e := err.(type) {
	case *CreationError:
		if e.Name == name {
			return e
		}
	case *CircularError, *RawInjectionError, *ShutdownError, *DuplicateError:
		return nil
	}
	return &CreationError{Name: name, Desc: desc, Err: err}
}

func clearRecorded(r *registry, recorded bool) {
	if !recorded {
		return
	}
	r.slock.Lock()
	r.suppressed = nil
	r.slock.Unlock()
}

func (r *registry) lockedNames() []string {
	names := r.cache.inCreationNames()
	r.lnLock.Lock()
	defer r.lnLock.Unlock()
	res := make([]string, 0, len(names))
	for _, n := range names {
		if !r.lnCreations[n] {
			res = append(res, n)
		}
	}
	return res
}

func (r *registry) definitionDesc(name string) string {
	r.dlock.Lock()
	defer r.dlock.Unlock()
	if d, ok := r.defs[name]; ok {
		return d.Description
	}
	return ""
}

func (r *registry) Register(def *Definition) error {
	if def == nil {
		return errors.Errorf("definition must not be nil")
	}
	if err := def.Check(); err != nil {
		return err
	}
	r.dlock.Lock()
	defer r.dlock.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return errors.Errorf("the definition for component %q is already registered", def.Name)
	}
	r.defs[def.Name] = def.Copy()
	r.logger.Debug("Registered the definition for component ", def.Name)
	return nil
}

func (r *registry) definition(name string) *Definition {
	r.dlock.Lock()
	defer r.dlock.Unlock()
	return r.defs[name]
}

func (r *registry) RegisterInstance(name string, obj interface{}) error {
	if name == "" {
		return errors.Errorf("component name must not be empty")
	}
	if obj == nil {
		return errors.Errorf("component instance must not be nil")
	}
	if atomic.LoadInt32(&r.down) != 0 {
		return &ShutdownError{Name: name}
	}
	if r.cache.isCommitted(name) {
		return &DuplicateError{Name: name}
	}
	return r.cache.commit(name, obj)
}

func (r *registry) Get(name string) (interface{}, bool) {
	return r.cache.get(name, true)
}

func (r *registry) IsCommitted(name string) bool {
	return r.cache.isCommitted(name)
}

func (r *registry) IsInCreation(name string) bool {
	return r.cache.isInCreation(name)
}

func (r *registry) SetInCreationExcluded(name string, excluded bool) {
	r.cache.setExcluded(name, excluded)
}

func (r *registry) OnCommit(name string, fn func(obj interface{})) {
	r.cache.onCommit(name, fn)
}

func (r *registry) RegisterDependency(dependent, dependency string) {
	r.graph.register(dependent, dependency)
}

func (r *registry) RegisterContained(inner, outer string) {
	r.graph.registerContained(inner, outer)
}

func (r *registry) Dependents(name string) []string {
	return r.graph.getDependents(name)
}

func (r *registry) Dependencies(name string) []string {
	return r.graph.getDependencies(name)
}

func (r *registry) DependsOn(name, dependency string) bool {
	return r.graph.dependsOn(name, dependency)
}

func (r *registry) RegisterDisposer(name string, obj interface{}, d Disposer) {
	r.disp.register(name, obj, d)
}

func (r *registry) Names() []string {
	return r.cache.names()
}

func (r *registry) Count() int {
	return r.cache.count()
}

func (r *registry) String() string {
	r.dlock.Lock()
	defs := len(r.defs)
	r.dlock.Unlock()
	return fmt.Sprintf("registry{id=%s, committed=%d, definitions=%d}", r.id, r.Count(), defs)
}
