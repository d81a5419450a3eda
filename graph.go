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
)

// depGraph records "X depends on Y" edges between component names as they are
// discovered during construction. The edges are metadata, the graph may
// legitimately contain cycles - it is used for the destruction ordering and
// for rejecting circular depends-on constraints, not for forbidding circular
// injection.
//
// The graph has its own lock, so the edge registration never blocks unrelated
// creations.
type depGraph struct {
	lock sync.Mutex
	// dependents[Y] lists the names which depend on Y
	dependents map[string][]string
	// dependencies[X] lists the names X depends on
	dependencies map[string][]string
	// contained[X] lists inner components owned by X
	contained map[string][]string
}

func newDepGraph() *depGraph {
	g := new(depGraph)
	g.dependents = make(map[string][]string)
	g.dependencies = make(map[string][]string)
	g.contained = make(map[string][]string)
	return g
}

// register adds the "dependent depends on dependency" edge to both adjacency
// maps. The insertion is idempotent and keeps the discovery order.
func (g *depGraph) register(dependent, dependency string) {
	g.lock.Lock()
	if appendUnique(g.dependents, dependency, dependent) {
		appendUnique(g.dependencies, dependent, dependency)
	}
	g.lock.Unlock()
}

// registerContained records the "inner is contained in outer" relation. The
// outer component also becomes a dependent of the inner one, so the teardown
// of the outer happens first.
func (g *depGraph) registerContained(inner, outer string) {
	g.lock.Lock()
	ok := appendUnique(g.contained, outer, inner)
	g.lock.Unlock()
	if ok {
		g.register(outer, inner)
	}
}

// dependsOn answers whether a transitively depends on b. The traversal keeps
// a visited set, so it terminates even when a and b are mutually reachable.
func (g *depGraph) dependsOn(a, b string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.dependsOnLocked(a, b, map[string]bool{})
}

func (g *depGraph) dependsOnLocked(a, b string, seen map[string]bool) bool {
	if seen[a] {
		return false
	}
	seen[a] = true
	for _, d := range g.dependencies[a] {
		if d == b || g.dependsOnLocked(d, b, seen) {
			return true
		}
	}
	return false
}

// getDependents returns names of the components which depend on the name
func (g *depGraph) getDependents(name string) []string {
	g.lock.Lock()
	defer g.lock.Unlock()
	return copyNames(g.dependents[name])
}

func (g *depGraph) getDependencies(name string) []string {
	g.lock.Lock()
	defer g.lock.Unlock()
	return copyNames(g.dependencies[name])
}

func (g *depGraph) hasDependents(name string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.dependents[name]) > 0
}

// removeDependents detaches and returns the dependents of the name. The
// disposal coordinator destroys the returned components before the name
// itself.
func (g *depGraph) removeDependents(name string) []string {
	g.lock.Lock()
	res := g.dependents[name]
	delete(g.dependents, name)
	g.lock.Unlock()
	return res
}

// removeContained detaches and returns the inner components of the name
func (g *depGraph) removeContained(name string) []string {
	g.lock.Lock()
	res := g.contained[name]
	delete(g.contained, name)
	g.lock.Unlock()
	return res
}

// prune removes the destroyed name from the dependency lists of other
// components and drops its own dependency record.
func (g *depGraph) prune(name string) {
	g.lock.Lock()
	for dep, lst := range g.dependents {
		g.dependents[dep] = removeName(lst, name)
		if len(g.dependents[dep]) == 0 {
			delete(g.dependents, dep)
		}
	}
	delete(g.dependencies, name)
	g.lock.Unlock()
}

func (g *depGraph) clear() {
	g.lock.Lock()
	g.dependents = make(map[string][]string)
	g.dependencies = make(map[string][]string)
	g.contained = make(map[string][]string)
	g.lock.Unlock()
}

func appendUnique(m map[string][]string, key, val string) bool {
	for _, v := range m[key] {
		if v == val {
			return false
		}
	}
	m[key] = append(m[key], val)
	return true
}

func copyNames(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	res := make([]string, len(src))
	copy(res, src)
	return res
}

func removeName(lst []string, name string) []string {
	for i, v := range lst {
		if v == name {
			return append(lst[:i], lst[i+1:]...)
		}
	}
	return lst
}
