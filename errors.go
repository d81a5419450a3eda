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
	"strings"
)

type (
	// CircularError indicates that a construction of the component requested
	// itself again on the same construction path, or that two construction
	// contexts turned out to wait for each other, so the request could never
	// be satisfied.
	CircularError struct {
		// Name contains the name of the component which creation was re-entered
		Name string

		// Path contains the chain of component names which led to the cycle.
		// Could be empty if the cycle was detected between construction contexts.
		Path []string
	}

	// DuplicateError indicates an attempt to commit a component under a name
	// which is already bound to a different instance. It is a registry usage
	// violation, not a recoverable runtime condition.
	DuplicateError struct {
		Name string
	}

	// RawInjectionError indicates that the early reference of a component was
	// captured by its dependents, but the initialization phase eventually
	// produced a different (wrapped) instance, so the dependents hold a stale
	// raw version. Could be tolerated via Config.AllowRawInjection.
	RawInjectionError struct {
		Name string

		// Dependents contains names of the components which captured the raw version
		Dependents []string
	}

	// ShutdownError indicates a creation attempt made after DestroyAll() was
	// called. No new singletons are created once the registry shutdown began.
	ShutdownError struct {
		Name string
	}

	// CreationError wraps an error which happened on any construction step of
	// a component. It keeps the component name, the definition description (if
	// any) and errors of concurrent creation attempts which were superseded by
	// this one (Related).
	CreationError struct {
		Name string
		Desc string
		Err  error

		// Related contains suppressed errors of concurrent attempts, attached
		// only when the overall logical request fails.
		Related []error
	}
)

// ErrNotRegistered is returned by Resolve when no definition is found for the
// requested component name.
var ErrNotRegistered = fmt.Errorf("no definition is registered for the component")

// maxSuppressedErrors limits the number of superseded-attempt errors retained
// for one construction.
const maxSuppressedErrors = 100

func (e *CircularError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("circular creation of component %q, the construction path is [%s]",
			e.Name, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("circular creation of component %q, it is already in creation on the same logical path", e.Name)
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("could not commit component %q, another instance is already bound to the name", e.Name)
}

func (e *RawInjectionError) Error() string {
	return fmt.Sprintf("component %q has been injected into [%s] in its raw version as part of a circular "+
		"reference, but has eventually been wrapped, so the dependents do not use the final version of the component",
		e.Name, strings.Join(e.Dependents, ", "))
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("could not create component %q, the registry is shutting down. "+
		"Do not request components from a disposer implementation", e.Name)
}

func (e *CreationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("could not create component %q", e.Name))
	if e.Desc != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Desc))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if len(e.Related) > 0 {
		sb.WriteString(fmt.Sprintf("; %d related cause(s):", len(e.Related)))
		for _, re := range e.Related {
			sb.WriteString(" [")
			sb.WriteString(re.Error())
			sb.WriteString("]")
		}
	}
	return sb.String()
}

// Cause returns the underlying error, it supports the errors.Cause() unwrapping
func (e *CreationError) Cause() error {
	return e.Err
}

// errRing is a capped ring of errors. When the capacity is exceeded the oldest
// records are overwritten.
type errRing struct {
	errs  []error
	next  int
	total int
}

func newErrRing(cap int) *errRing {
	return &errRing{errs: make([]error, cap)}
}

func (r *errRing) add(err error) {
	if len(r.errs) == 0 {
		return
	}
	r.errs[r.next] = err
	r.next = (r.next + 1) % len(r.errs)
	r.total++
}

// all returns the retained errors in the order they were added
func (r *errRing) all() []error {
	if r.total == 0 {
		return nil
	}
	sz := r.total
	if sz > len(r.errs) {
		sz = len(r.errs)
	}
	res := make([]error, 0, sz)
	start := 0
	if r.total > len(r.errs) {
		start = r.next
	}
	for i := 0; i < sz; i++ {
		res = append(res, r.errs[(start+i)%len(r.errs)])
	}
	return res
}
