package connection

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func frame(i int) []byte {
	return []byte(fmt.Sprintf("frame-%d\n", i))
}

func TestOutbox_PushPopOrder(t *testing.T) {
	o := newOutbox(10)

	for i := 0; i < 5; i++ {
		if !o.Push(frame(i)) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if o.Stats().Queued != 5 {
		t.Errorf("queued = %d, want 5", o.Stats().Queued)
	}

	got := o.Pop(0)
	if len(got) != 5 {
		t.Fatalf("Pop(0) returned %d frames, want 5", len(got))
	}
	for i, f := range got {
		if string(f) != string(frame(i)) {
			t.Errorf("frame %d = %q, want %q", i, f, frame(i))
		}
	}
	if o.Stats().Queued != 0 {
		t.Errorf("queued = %d, want 0", o.Stats().Queued)
	}
}

func TestOutbox_PopRespectsMax(t *testing.T) {
	o := newOutbox(4)
	for i := 0; i < 10; i++ {
		o.Push(frame(i))
	}

	first := o.Pop(3)
	if len(first) != 3 {
		t.Fatalf("Pop(3) returned %d frames", len(first))
	}
	if string(first[0]) != string(frame(0)) {
		t.Errorf("first frame = %q, want %q", first[0], frame(0))
	}
	if o.Stats().Queued != 7 {
		t.Errorf("queued = %d, want 7", o.Stats().Queued)
	}
}

func TestOutbox_GrowAt70Percent(t *testing.T) {
	o := newOutbox(10)

	for i := 0; i < 7; i++ {
		o.Push(frame(i))
	}

	stats := o.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}

	got := o.Pop(0)
	for i, f := range got {
		if string(f) != string(frame(i)) {
			t.Errorf("frame %d = %q, want %q", i, f, frame(i))
		}
	}
}

func TestOutbox_GrowWhileWrapped(t *testing.T) {
	o := newOutbox(8)

	// Advance head so the ring wraps before it grows.
	for i := 0; i < 4; i++ {
		o.Push(frame(i))
	}
	o.Pop(4)

	for i := 4; i < 40; i++ {
		o.Push(frame(i))
	}

	got := o.Pop(0)
	if len(got) != 36 {
		t.Fatalf("Pop(0) returned %d frames, want 36", len(got))
	}
	for i, f := range got {
		if string(f) != string(frame(i+4)) {
			t.Fatalf("frame %d = %q, want %q", i, f, frame(i+4))
		}
	}
}

func TestOutbox_PopBlocksUntilPush(t *testing.T) {
	o := newOutbox(4)

	result := make(chan [][]byte, 1)
	go func() {
		result <- o.Pop(0)
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	o.Push(frame(1))

	select {
	case got := <-result:
		if len(got) != 1 || string(got[0]) != string(frame(1)) {
			t.Errorf("Pop() = %q, want [%q]", got, frame(1))
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestOutbox_CloseWakesAndRejects(t *testing.T) {
	o := newOutbox(4)
	o.Push(frame(0))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Pop(0) // drains the queued frame
		if got := o.Pop(0); got != nil {
			t.Errorf("Pop() after Close = %q, want nil", got)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	o.Close()
	wg.Wait()

	if o.Push(frame(1)) {
		t.Error("Push after Close returned true")
	}
}

func TestOutbox_ConcurrentPush(t *testing.T) {
	o := newOutbox(2)

	const writers, each = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				o.Push(frame(i))
			}
		}()
	}
	wg.Wait()

	stats := o.Stats()
	if stats.Queued != writers*each {
		t.Errorf("Queued = %d, want %d", stats.Queued, writers*each)
	}
	if stats.Capacity < writers*each {
		t.Errorf("Capacity = %d, want at least %d", stats.Capacity, writers*each)
	}
}
