package ws

import (
	"sync"
	"testing"
)

func TestEnqueueAfterCloseReturnsFalse(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	s := newSession(dialWS(t, ts))

	if !s.enqueue([]byte("a")) {
		t.Fatal("enqueue on open session = false")
	}
	s.close()
	if s.enqueue([]byte("b")) {
		t.Error("enqueue on closed session = true")
	}
}

func TestEnqueueCloseRace(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	// Hammer enqueue from several goroutines while closing: a send racing
	// the channel close would panic.
	for i := 0; i < 50; i++ {
		s := newSession(dialWS(t, ts))

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 100; j++ {
					s.enqueue([]byte("x"))
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.close()
		}()
		close(start)
		wg.Wait()
	}
}

func TestSetFiltersPartialUpdate(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	s := newSession(dialWS(t, ts))
	defer s.close()

	off := false
	s.SetFilters(nil, &off, []string{"K1M_BR2_6"})

	f := s.Filters()
	if !f.ShowOnCourse {
		t.Error("ShowOnCourse changed by nil field")
	}
	if f.ShowResults {
		t.Error("ShowResults not applied")
	}
	if len(f.RaceFilter) != 1 || f.RaceFilter[0] != "K1M_BR2_6" {
		t.Errorf("RaceFilter = %v", f.RaceFilter)
	}
}
