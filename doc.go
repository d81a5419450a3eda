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

/*
Package registry provides a concurrent component registry - a runtime container
which constructs, wires and manages the life-cycle of shared object instances
(components) on demand. Client code asks the Registry for a component by its
name, the Registry either returns the already constructed shared instance or
builds a new one, recursively satisfying its dependencies first.

The central piece is the concurrent singleton construction engine. It caches
constructed singletons, lets at most one construction of a name run at a time,
and breaks circular dependencies between singletons by exposing an early,
not-yet-fully-initialized reference of the component which is being built.
When a component A needs B, and B needs A back, B receives the early reference
of A instead of recursing forever. The final instance of A is committed to the
cache when its construction completes.

All singleton constructions are serialized by one creation lock. A construction
context obtained via Lenient() is exempted from the lock - such contexts are
intended for go-routines spawned during another component construction, which
otherwise could deadlock against the go-routine holding the lock. The lenient
path never waits forever: a genuine circular wait between construction contexts
is detected by walking the waiter-blocker graph and reported as CircularError.

Components can be built from declarative Definitions registered in the
Registry. A Definition names the component, provides the instantiation
function, optional ordering constraints (DependsOn), a properties map which is
applied to the raw instance, and optional init/dispose functions. Struct
components can request other components using the `inject:"name"` field tag.

The Registry tracks "X depends on Y" edges as they are discovered during
construction and uses them on DestroyAll() to tear components down in
dependents-first order, invoking registered disposers exactly once each.
*/
package registry
