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
	"sync"
	"sync/atomic"

	"github.com/jrivets/log4g"
)

type (
	dispEntry struct {
		obj interface{}
		d   Disposer
	}

	// disposal keeps the registered disposers in their registration order.
	// The teardown is best-effort: disposer errors and panics are logged and
	// never abort the destruction of the remaining components.
	disposal struct {
		logger log4g.Logger
		lock   sync.Mutex
		order  []string
		m      map[string]dispEntry
	}
)

func newDisposal(logger log4g.Logger) *disposal {
	d := new(disposal)
	d.logger = logger
	d.m = make(map[string]dispEntry)
	return d
}

func (dp *disposal) register(name string, obj interface{}, d Disposer) {
	dp.lock.Lock()
	if _, ok := dp.m[name]; !ok {
		dp.order = append(dp.order, name)
	}
	dp.m[name] = dispEntry{obj: obj, d: d}
	dp.lock.Unlock()
}

// remove detaches the disposer of the name, so it cannot fire twice
func (dp *disposal) remove(name string) (dispEntry, bool) {
	dp.lock.Lock()
	defer dp.lock.Unlock()
	e, ok := dp.m[name]
	if ok {
		delete(dp.m, name)
		dp.order = removeName(dp.order, name)
	}
	return e, ok
}

// names returns the registered names, in the registration order
func (dp *disposal) names() []string {
	dp.lock.Lock()
	defer dp.lock.Unlock()
	res := make([]string, len(dp.order))
	copy(res, dp.order)
	return res
}

func (r *registry) Remove(name string) {
	r.destroySingleton(name)
}

func (r *registry) DestroyAll() {
	r.logger.Info("DestroyAll(): destroying ", len(r.disp.names()), " disposable component(s) of registry ", r.id)
	atomic.StoreInt32(&r.down, 1)

	names := r.disp.names()
	for i := len(names) - 1; i >= 0; i-- {
		r.destroySingleton(names[i])
	}

	r.graph.clear()

	r.clock.lock()
	r.cache.clear()
	r.clock.unlock()
	r.logger.Info("DestroyAll(): done.")
}

// destroySingleton tears one component down, its live dependents first, and
// drops its cache state. During DestroyAll() the cache is cleaned in one shot
// at the end instead.
func (r *registry) destroySingleton(name string) {
	e, ok := r.disp.remove(name)
	r.destroyComponent(name, e, ok)

	if atomic.LoadInt32(&r.down) == 0 {
		r.clock.lock()
		r.cache.remove(name)
		r.clock.unlock()
	}
}

func (r *registry) destroyComponent(name string, e dispEntry, hasDisposer bool) {
	// dependents go down before their dependency
	for _, dn := range r.graph.removeDependents(name) {
		r.destroySingleton(dn)
	}

	if hasDisposer {
		r.invokeDisposer(name, e)
	}

	for _, cn := range r.graph.removeContained(name) {
		r.destroySingleton(cn)
	}

	r.graph.prune(name)
}

func (r *registry) invokeDisposer(name string, e dispEntry) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Panic in the disposer of component ", name, ": ", p)
		}
	}()
	if err := e.d.Destroy(e.obj); err != nil {
		r.logger.Warn("The disposer of component ", name, " returned an error: ", err)
	}
	atomic.AddUint64(&r.stDisposed, 1)
}
