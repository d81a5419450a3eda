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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type testComp struct {
	val int
}

func TestGetOrCreateCommits(t *testing.T) {
	r := New(nil)
	v := &testComp{val: 1}
	cnt := 0
	obj, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		cnt++
		return v, nil
	})
	if err != nil || obj != interface{}(v) {
		t.Fatal("expected the new instance, but obj=", obj, ", err=", err)
	}

	obj, err = r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		cnt++
		return &testComp{val: 2}, nil
	})
	if err != nil || obj != interface{}(v) || cnt != 1 {
		t.Fatal("the committed instance must be returned without the factory call, obj=",
			obj, ", err=", err, ", cnt=", cnt)
	}

	if !r.IsCommitted("a") || r.IsInCreation("a") {
		t.Fatal("wrong state: committed=", r.IsCommitted("a"), ", inCreation=", r.IsInCreation("a"))
	}
	st := r.Stats()
	if st.Created != 1 || st.Commits != 1 || st.CacheHits != 1 || st.Committed != 1 {
		t.Fatal("wrong stats: ", st)
	}
}

func TestGetOrCreateFactoryError(t *testing.T) {
	r := New(nil)
	cnt := 0
	_, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		cnt++
		return nil, errors.Errorf("boom")
	})
	ce, ok := err.(*CreationError)
	if !ok || ce.Name != "a" || !strings.Contains(err.Error(), "boom") {
		t.Fatal("expected the wrapped creation error, but err=", err)
	}
	if r.IsCommitted("a") || r.IsInCreation("a") {
		t.Fatal("the failed name must be completely absent")
	}

	// the failure leaves no residue, the retry runs the factory again
	v := &testComp{}
	obj, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		cnt++
		return v, nil
	})
	if err != nil || obj != interface{}(v) || cnt != 2 {
		t.Fatal("the retry must succeed, obj=", obj, ", err=", err, ", cnt=", cnt)
	}
}

func TestGetOrCreateNilInstance(t *testing.T) {
	r := New(nil)
	_, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		return nil, nil
	})
	if err == nil || !strings.Contains(err.Error(), "nil instance") {
		t.Fatal("the nil instance must be rejected, but err=", err)
	}
}

func TestGetOrCreateEmptyName(t *testing.T) {
	r := New(nil)
	if _, err := r.GetOrCreate("", func(c *Creation) (interface{}, error) {
		return &testComp{}, nil
	}); err == nil {
		t.Fatal("the empty name must be rejected")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := New(nil)
	const gors = 8
	var invoked int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]interface{}, gors)
	errs := make([]error, gors)

	for i := 0; i < gors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
				atomic.AddInt32(&invoked, 1)
				time.Sleep(10 * time.Millisecond)
				return &testComp{val: i}, nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	if invoked != 1 {
		t.Fatal("the factory must run exactly once, but invoked=", invoked)
	}
	for i := 0; i < gors; i++ {
		if errs[i] != nil || results[i] != results[0] {
			t.Fatal("requester ", i, " got obj=", results[i], ", err=", errs[i],
				", but the winner is ", results[0])
		}
	}
}

func TestNestedCreation(t *testing.T) {
	r := New(nil)
	obj, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		// a nested request of the lock holder must not deadlock
		b, err := c.GetOrCreate("b", func(cc *Creation) (interface{}, error) {
			return &testComp{val: 2}, nil
		})
		if err != nil {
			return nil, err
		}
		return &testComp{val: b.(*testComp).val + 1}, nil
	})
	if err != nil || obj.(*testComp).val != 3 {
		t.Fatal("expected val=3, but obj=", obj, ", err=", err)
	}
	if !r.IsCommitted("a") || !r.IsCommitted("b") {
		t.Fatal("both components must be committed")
	}
}

func TestSelfCircularCreation(t *testing.T) {
	r := New(nil)
	_, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		return c.GetOrCreate("a", func(cc *Creation) (interface{}, error) {
			return &testComp{}, nil
		})
	})
	ce, ok := err.(*CircularError)
	if !ok || ce.Name != "a" {
		t.Fatal("expected CircularError for a, but err=", err)
	}
	if r.IsCommitted("a") || r.IsInCreation("a") {
		t.Fatal("the failed name must be completely absent")
	}
}

func TestLenientParallelCreation(t *testing.T) {
	r := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := r.GetOrCreate("slow", func(c *Creation) (interface{}, error) {
			close(started)
			<-release
			return &testComp{}, nil
		})
		done <- err
	}()
	<-started

	// the creation lock is busy, but the lenient context proceeds anyway
	fin := make(chan struct{})
	go func() {
		obj, err := r.Lenient().GetOrCreate("fast", func(c *Creation) (interface{}, error) {
			return &testComp{val: 42}, nil
		})
		if err != nil || obj.(*testComp).val != 42 {
			t.Error("the lenient creation must succeed, but obj=", obj, ", err=", err)
		}
		close(fin)
	}()
	select {
	case <-fin:
	case <-time.After(5 * time.Second):
		t.Fatal("the lenient creation must not wait for the creation lock")
	}
	if !r.IsCommitted("fast") {
		t.Fatal("fast must be committed")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal("the slow creation must succeed, but err=", err)
	}
	if !r.IsCommitted("slow") {
		t.Fatal("slow must be committed")
	}
}

func TestLenientWaitsForBuilderOfSameName(t *testing.T) {
	r := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	winner := &testComp{val: 1}
	var invoked int32

	done := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
			close(started)
			<-release
			atomic.AddInt32(&invoked, 1)
			return winner, nil
		})
		done <- err
	}()
	<-started

	fin := make(chan struct{})
	var obj interface{}
	var err error
	go func() {
		obj, err = r.Lenient().GetOrCreate("a", func(c *Creation) (interface{}, error) {
			atomic.AddInt32(&invoked, 1)
			return &testComp{val: 2}, nil
		})
		close(fin)
	}()

	// the lenient requester of the same name has nothing to do but wait
	select {
	case <-fin:
		t.Fatal("the concurrent requester must wait for the in-flight creation")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-fin:
	case <-time.After(5 * time.Second):
		t.Fatal("the concurrent requester must get the winner result")
	}
	if err != nil || obj != interface{}(winner) || atomic.LoadInt32(&invoked) != 1 {
		t.Fatal("expected the winner instance, but obj=", obj, ", err=", err,
			", invoked=", atomic.LoadInt32(&invoked))
	}
	if berr := <-done; berr != nil {
		t.Fatal("the builder must succeed, but err=", berr)
	}
}

func TestLenientTransitiveCycleFails(t *testing.T) {
	r := New(nil)
	yStarted := make(chan struct{})
	xInCreation := make(chan struct{})
	t1Err := make(chan error, 1)
	t2Err := make(chan error, 1)

	// the first context builds y under the creation lock and then needs x
	go func() {
		_, err := r.GetOrCreate("y", func(c *Creation) (interface{}, error) {
			close(yStarted)
			<-xInCreation
			// let the second context fall asleep waiting for y
			time.Sleep(50 * time.Millisecond)
			if _, err := c.GetOrCreate("x", func(cc *Creation) (interface{}, error) {
				return &testComp{}, nil
			}); err != nil {
				return nil, err
			}
			return &testComp{}, nil
		})
		t1Err <- err
	}()

	// the second context builds x leniently and needs y back
	go func() {
		<-yStarted
		_, err := r.Lenient().GetOrCreate("x", func(c *Creation) (interface{}, error) {
			close(xInCreation)
			if _, err := c.GetOrCreate("y", func(cc *Creation) (interface{}, error) {
				return &testComp{}, nil
			}); err != nil {
				return nil, err
			}
			return &testComp{}, nil
		})
		t2Err <- err
	}()

	var e1, e2 error
	select {
	case e1 = <-t1Err:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: the y construction did not finish")
	}
	select {
	case e2 = <-t2Err:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: the x construction did not finish")
	}

	// the mutual wait must be broken by failing at least one of the requests
	_, c1 := e1.(*CircularError)
	_, c2 := e2.(*CircularError)
	if !c1 && !c2 {
		t.Fatal("expected the cross-context cycle to be detected, but e1=", e1, ", e2=", e2)
	}
}

func TestLockedWaiterTakesOverFailedLenientCreation(t *testing.T) {
	r := New(nil)
	obj, err := r.GetOrCreate("m", func(c *Creation) (interface{}, error) {
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, lerr := r.Lenient().GetOrCreate("x", func(cc *Creation) (interface{}, error) {
				close(started)
				// let the lock holder fall asleep waiting for x
				time.Sleep(30 * time.Millisecond)
				return nil, errors.Errorf("lenient attempt failed")
			})
			done <- lerr
		}()
		<-started

		// the failed concurrent attempt must hand the construction over,
		// not be misreported as a circular creation
		x, xerr := c.GetOrCreate("x", func(cc *Creation) (interface{}, error) {
			return &testComp{val: 9}, nil
		})
		if xerr != nil {
			return nil, xerr
		}
		if lerr := <-done; lerr == nil {
			return nil, errors.Errorf("the lenient attempt must report its own failure")
		}
		return x, nil
	})
	if err != nil || obj.(*testComp).val != 9 {
		t.Fatal("expected val=9, but obj=", obj, ", err=", err)
	}
	if !r.IsCommitted("x") || !r.IsCommitted("m") {
		t.Fatal("both components must be committed")
	}
}

func TestFactoryErrorSupersededByCommit(t *testing.T) {
	r := New(nil)
	winner := &testComp{val: 7}
	obj, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		// a competing attempt commits the name while this factory is failing
		if err := r.RegisterInstance("a", winner); err != nil {
			return nil, err
		}
		return nil, errors.Errorf("lost the race")
	})
	if err != nil || obj != interface{}(winner) {
		t.Fatal("the committed winner must supersede the failure, but obj=", obj, ", err=", err)
	}
}

func TestRelatedErrorsAttached(t *testing.T) {
	r := New(nil)
	_, err := r.GetOrCreate("main", func(c *Creation) (interface{}, error) {
		done := make(chan error, 1)
		go func() {
			_, err := r.Lenient().GetOrCreate("a", func(cc *Creation) (interface{}, error) {
				if err := r.RegisterInstance("a", &testComp{}); err != nil {
					return nil, err
				}
				return nil, errors.Errorf("superseded attempt")
			})
			done <- err
		}()
		if aerr := <-done; aerr != nil {
			return nil, aerr
		}
		return nil, errors.Errorf("main failed")
	})

	ce, ok := err.(*CreationError)
	if !ok || ce.Name != "main" {
		t.Fatal("expected the creation error of main, but err=", err)
	}
	if len(ce.Related) != 1 || !strings.Contains(ce.Related[0].Error(), "superseded attempt") {
		t.Fatal("the suppressed attempt error must be attached, but Related=", ce.Related)
	}
}

func TestRegisterInstance(t *testing.T) {
	r := New(nil)
	v := &testComp{}
	if err := r.RegisterInstance("a", v); err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if err := r.RegisterInstance("a", &testComp{}); err == nil {
		t.Fatal("the duplicate registration must be rejected")
	}
	if err := r.RegisterInstance("", v); err == nil {
		t.Fatal("the empty name must be rejected")
	}
	if err := r.RegisterInstance("b", nil); err == nil {
		t.Fatal("the nil instance must be rejected")
	}

	obj, ok := r.Get("a")
	if !ok || obj != interface{}(v) {
		t.Fatal("expected the registered instance, but obj=", obj, ", ok=", ok)
	}
}

func TestShutdownRejectsCreations(t *testing.T) {
	r := New(nil)
	r.DestroyAll()

	_, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		return &testComp{}, nil
	})
	if _, ok := err.(*ShutdownError); !ok {
		t.Fatal("expected ShutdownError, but err=", err)
	}
	if err := r.RegisterInstance("a", &testComp{}); err == nil {
		t.Fatal("the registration after the shutdown must be rejected")
	}
}

func TestInCreationExclusion(t *testing.T) {
	r := New(nil)
	r.SetInCreationExcluded("a", true)
	obj, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		// the re-entrant creation of the excluded name is not circular
		if r.IsInCreation("a") {
			return nil, errors.Errorf("the excluded name must not be reported as in creation")
		}
		return c.GetOrCreate("a", func(cc *Creation) (interface{}, error) {
			return &testComp{val: 5}, nil
		})
	})
	if err != nil || obj.(*testComp).val != 5 {
		t.Fatal("expected val=5, but obj=", obj, ", err=", err)
	}
}

func TestOnCommitObserver(t *testing.T) {
	r := New(nil)
	var got interface{}
	r.OnCommit("a", func(obj interface{}) { got = obj })

	v := &testComp{}
	if _, err := r.GetOrCreate("a", func(c *Creation) (interface{}, error) {
		return v, nil
	}); err != nil {
		t.Fatal("err must be nil, but err=", err)
	}
	if got != interface{}(v) {
		t.Fatal("the observer must receive the committed instance, but got=", got)
	}
}

func TestNamesAndCount(t *testing.T) {
	r := New(nil)
	r.RegisterInstance("a", 1)
	r.RegisterInstance("b", 2)
	names := r.Names()
	if r.Count() != 2 || len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatal("expected [a b], but names=", names, ", count=", r.Count())
	}
}

func TestStatsString(t *testing.T) {
	var s Stats
	s.Committed = 1234
	if !strings.Contains(s.String(), "1,234") {
		t.Fatal("the counters must be humanized, but got ", s.String())
	}
}
