package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestKeyGuard_LockLifecycle(t *testing.T) {
	g := newKeyGuard()
	count := 10000

	for i := 0; i < count; i++ {
		g.with(fmt.Sprintf("socket-%d", i), func() {})
	}

	if n := g.size(); n != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining after use", n)
	}
}

func TestKeyGuard_SerializesSameKey(t *testing.T) {
	g := newKeyGuard()
	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.with("same", func() {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected exclusive access, saw %d concurrent holders", maxInside)
	}
}

func TestKeyGuard_DistinctKeysDoNotBlock(t *testing.T) {
	g := newKeyGuard()
	release := make(chan struct{})
	started := make(chan struct{})

	go g.with("a", func() {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		g.with("b", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key b blocked behind key a")
	}
	close(release)
}
