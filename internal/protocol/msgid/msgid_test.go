package msgid

import (
	"sync"
	"testing"

	"github.com/danmuck/rpcmux/internal/testutil/testlog"
)

func TestFetchIsLowestFirstAndReusesReleased(t *testing.T) {
	testlog.Start(t)
	s := New()
	for want := uint32(1); want <= 4; want++ {
		if got := s.Fetch(); got != want {
			t.Fatalf("fetch got=%d want=%d", got, want)
		}
	}
	s.Release(2)
	if got := s.Fetch(); got != 2 {
		t.Fatalf("fetch after release got=%d want=2", got)
	}
	if got := s.Fetch(); got != 5 {
		t.Fatalf("fetch got=%d want=5", got)
	}
}

func TestFetchGrowsPastOneBlock(t *testing.T) {
	testlog.Start(t)
	s := New()
	for i := 0; i < BlockWidth; i++ {
		s.Fetch()
	}
	if got := s.Blocks(); got != 1 {
		t.Fatalf("blocks got=%d want=1", got)
	}
	if got := s.Fetch(); got != BlockWidth+1 {
		t.Fatalf("fetch got=%d want=%d", got, BlockWidth+1)
	}
	if got := s.Blocks(); got != 2 {
		t.Fatalf("blocks got=%d want=2", got)
	}
}

func TestReleaseInReverseOrderShrinksToEmpty(t *testing.T) {
	testlog.Start(t)
	s := New()
	const n = 3*BlockWidth + 7
	ids := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.Fetch())
	}
	if got := s.Blocks(); got != 4 {
		t.Fatalf("blocks got=%d want=4", got)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		s.Release(ids[i])
	}
	if got := s.Blocks(); got != 0 {
		t.Fatalf("blocks after release got=%d want=0", got)
	}
	if got := s.Outstanding(); got != 0 {
		t.Fatalf("outstanding got=%d want=0", got)
	}
}

func TestReleaseTrimsEmptyRunBelowTop(t *testing.T) {
	testlog.Start(t)
	s := New()
	ids := make([]uint32, 0, 2*BlockWidth+1)
	for i := 0; i < 2*BlockWidth+1; i++ {
		ids = append(ids, s.Fetch())
	}
	// Empty the middle block first; it stays because the top block is live.
	for _, id := range ids[BlockWidth : 2*BlockWidth] {
		s.Release(id)
	}
	if got := s.Blocks(); got != 3 {
		t.Fatalf("blocks got=%d want=3", got)
	}
	s.Release(ids[2*BlockWidth])
	if got := s.Blocks(); got != 1 {
		t.Fatalf("blocks got=%d want=1", got)
	}
}

func TestReleaseOfUnheldIDPanics(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(*Source){
		"zero":       func(s *Source) { s.Release(0) },
		"never held": func(s *Source) { s.Release(40) },
		"double": func(s *Source) {
			id := s.Fetch()
			s.Release(id)
			s.Release(id)
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn(New())
		})
	}
}

func TestConcurrentFetchNeverDuplicatesHeldIDs(t *testing.T) {
	testlog.Start(t)
	s := New()
	var (
		mu   sync.Mutex
		held = make(map[uint32]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := s.Fetch()
				mu.Lock()
				if held[id] {
					mu.Unlock()
					t.Errorf("id %d issued while held", id)
					return
				}
				held[id] = true
				mu.Unlock()

				mu.Lock()
				delete(held, id)
				mu.Unlock()
				s.Release(id)
			}
		}()
	}
	wg.Wait()
	if got := s.Outstanding(); got != 0 {
		t.Fatalf("outstanding got=%d want=0", got)
	}
}
