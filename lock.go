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

// creationLock is a mutual exclusion lock built on a channel. Unlike
// sync.Mutex it supports a non-blocking acquisition attempt, which the lenient
// creation path relies on.
type creationLock struct {
	ch chan struct{}
}

func newCreationLock() *creationLock {
	return &creationLock{ch: make(chan struct{}, 1)}
}

// lock blocks until the lock is acquired
func (cl *creationLock) lock() {
	cl.ch <- struct{}{}
}

// tryLock acquires the lock if it is free and returns whether it succeeded
func (cl *creationLock) tryLock() bool {
	select {
	case cl.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (cl *creationLock) unlock() {
	select {
	case <-cl.ch:
	default:
		panic("unlock of not locked creationLock")
	}
}
