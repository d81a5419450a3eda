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
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats contains the registry counters snapshot
type Stats struct {
	// Committed is the number of the known singleton names
	Committed int
	// Definitions is the number of the registered definitions
	Definitions int
	// Disposers is the number of components with a pending teardown callback
	Disposers int

	// CacheHits counts GetOrCreate calls served from the committed map
	CacheHits uint64
	// Created counts the factory invocations
	Created uint64
	// Commits counts the successful singleton commits
	Commits uint64
	// Disposed counts the disposers which have fired
	Disposed uint64
}

func (r *registry) Stats() Stats {
	r.dlock.Lock()
	defs := len(r.defs)
	r.dlock.Unlock()
	return Stats{
		Committed:   r.cache.count(),
		Definitions: defs,
		Disposers:   len(r.disp.names()),
		CacheHits:   atomic.LoadUint64(&r.stHits),
		Created:     atomic.LoadUint64(&r.stCreated),
		Commits:     atomic.LoadUint64(&r.stCommits),
		Disposed:    atomic.LoadUint64(&r.stDisposed),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("{committed: %s, definitions: %s, disposers: %s, cacheHits: %s, created: %s, commits: %s, disposed: %s}",
		humanize.Comma(int64(s.Committed)), humanize.Comma(int64(s.Definitions)), humanize.Comma(int64(s.Disposers)),
		humanize.Comma(int64(s.CacheHits)), humanize.Comma(int64(s.Created)), humanize.Comma(int64(s.Commits)),
		humanize.Comma(int64(s.Disposed)))
}
