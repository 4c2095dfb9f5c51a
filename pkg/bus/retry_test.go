package bus

import (
	"context"
	"testing"
	"time"
)

func TestRetryScheduleReleasesSoonestFirst(t *testing.T) {
	s := newRetrySchedule()
	defer s.Close()

	late := &QueuedMessage{Message: NewMessage([]byte("late"))}
	soon := &QueuedMessage{Message: NewMessage([]byte("soon"))}
	s.Add(late, 200*time.Millisecond)
	s.Add(soon, 10*time.Millisecond)

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != soon {
		t.Fatal("expected the sooner entry first")
	}

	got, err = s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != late {
		t.Fatal("expected the later entry second")
	}
}

func TestRetryScheduleNewSoonerEntryCutsWaitShort(t *testing.T) {
	s := newRetrySchedule()
	defer s.Close()

	s.Add(&QueuedMessage{Message: NewMessage(nil)}, 5*time.Second)

	done := make(chan *QueuedMessage, 1)
	go func() {
		qm, _ := s.Next(context.Background())
		done <- qm
	}()

	time.Sleep(20 * time.Millisecond)
	soon := &QueuedMessage{Message: NewMessage(nil)}
	s.Add(soon, 30*time.Millisecond)

	select {
	case got := <-done:
		if got != soon {
			t.Fatal("expected the newly added sooner entry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next stayed blocked on the original long wait")
	}
}

func TestRetryScheduleNextHonorsContext(t *testing.T) {
	s := newRetrySchedule()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestRetryScheduleCloseReleasesBlockedNext(t *testing.T) {
	s := newRetrySchedule()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		if err != errRetryScheduleClosed {
			t.Fatalf("expected errRetryScheduleClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not observe Close")
	}

	// Adds after Close are dropped, never panic.
	s.Add(&QueuedMessage{Message: NewMessage(nil)}, time.Millisecond)
}
