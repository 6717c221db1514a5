/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memLocker is an in-process lease store ignoring expiry.
type memLocker struct {
	mu       sync.Mutex
	holder   string
	err      error
	released []string
}

func (m *memLocker) Acquire(_ context.Context, _, id string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.holder == "" {
		m.holder = id
	}
	return m.holder == id, nil
}

func (m *memLocker) Release(_ context.Context, _, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == id {
		m.holder = ""
	}
	m.released = append(m.released, id)
	return nil
}

func (m *memLocker) setHolder(id string) {
	m.mu.Lock()
	m.holder = id
	m.mu.Unlock()
}

func TestCampaign(t *testing.T) {
	locker := &memLocker{}
	a := New(locker, Config{InstanceID: "a"}, zerolog.Nop())
	b := New(locker, Config{InstanceID: "b"}, zerolog.Nop())
	ctx := context.Background()

	a.campaign(ctx)
	b.campaign(ctx)
	if !a.IsLeader() || b.IsLeader() {
		t.Fatalf("leaders: a=%v b=%v, want only a", a.IsLeader(), b.IsLeader())
	}

	locker.setHolder("b")
	a.campaign(ctx)
	b.campaign(ctx)
	if a.IsLeader() || !b.IsLeader() {
		t.Fatalf("after takeover: a=%v b=%v, want only b", a.IsLeader(), b.IsLeader())
	}

	locker.err = errors.New("redis down")
	b.campaign(ctx)
	if b.IsLeader() {
		t.Fatal("a failed lease check must drop leadership")
	}
}

func TestChangesReportsTransitions(t *testing.T) {
	locker := &memLocker{}
	e := New(locker, Config{InstanceID: "a"}, zerolog.Nop())
	changes := e.Changes()

	e.campaign(context.Background())
	if got := <-changes; !got {
		t.Fatal("expected acquired transition")
	}

	e.campaign(context.Background())
	select {
	case v := <-changes:
		t.Fatalf("renewal reported a transition: %v", v)
	default:
	}

	locker.setHolder("other")
	e.campaign(context.Background())
	if got := <-changes; got {
		t.Fatal("expected lost transition")
	}
}

func TestRunReleasesOnCancel(t *testing.T) {
	locker := &memLocker{}
	e := New(locker, Config{InstanceID: "a", Lease: time.Second, RetryInterval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !e.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !e.IsLeader() {
		t.Fatal("never became leader")
	}

	cancel()
	<-done
	if e.IsLeader() {
		t.Fatal("still leader after Run returned")
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.holder != "" || len(locker.released) != 1 {
		t.Fatalf("holder=%q released=%v", locker.holder, locker.released)
	}
}

func TestNewClampsRetryInterval(t *testing.T) {
	e := New(&memLocker{}, Config{Lease: 3 * time.Second, RetryInterval: 10 * time.Second}, zerolog.Nop())
	if e.cfg.RetryInterval != time.Second {
		t.Fatalf("RetryInterval = %v, want 1s", e.cfg.RetryInterval)
	}
	if e.InstanceID() == "" {
		t.Fatal("instance id not generated")
	}
}

func TestWhileLeader(t *testing.T) {
	locker := &memLocker{}
	e := New(locker, Config{InstanceID: "a"}, zerolog.Nop())

	var running atomic.Int32
	var starts atomic.Int32
	fn := func(ctx context.Context) {
		starts.Add(1)
		running.Add(1)
		<-ctx.Done()
		running.Add(-1)
	}

	// Leading before WhileLeader subscribes: fn starts straight away.
	e.campaign(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WhileLeader(ctx, e, fn)
		close(done)
	}()

	waitUntil := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitUntil("fn to start", func() bool { return running.Load() == 1 })

	locker.setHolder("other")
	e.campaign(context.Background())
	waitUntil("fn to stop", func() bool { return running.Load() == 0 })

	locker.setHolder("a")
	e.campaign(context.Background())
	waitUntil("fn to restart", func() bool { return starts.Load() == 2 && running.Load() == 1 })

	cancel()
	<-done
	if running.Load() != 0 {
		t.Fatal("fn still running after WhileLeader returned")
	}
}
