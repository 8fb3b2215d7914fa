package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fathomline/regatta/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	rec1 := model.RawRecord{SourceURL: "https://yachtspy.example/a", Category: "yacht", RawName: "Sea Breeze"}
	if !q.Enqueue(ctx, rec1) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	recChan := q.Dequeue(ctx)
	rec := <-recChan
	if rec.RawName != "Sea Breeze" {
		t.Errorf("expected Sea Breeze, got %v", rec.RawName)
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	rec1 := model.RawRecord{SourceURL: "https://yachtspy.example/a", Category: "yacht", RawName: "Sea Breeze"}
	rec2 := model.RawRecord{SourceURL: "https://yachtspy.example/b", Category: "yacht", RawName: "Odyssey"}
	rec3 := model.RawRecord{SourceURL: "https://yachtspy.example/c", Category: "tender", RawName: "Mischief"}

	if !q.Enqueue(ctx, rec1) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, rec2) {
		t.Error("expected enqueue to succeed")
	}

	// Try to enqueue when full
	if q.Enqueue(ctx, rec3) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numGoroutines := 10
	numRecords := 100

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numRecords; j++ {
				rec := model.RawRecord{
					SourceURL: fmt.Sprintf("https://yachtspy.example/%d/%d", id, j),
					Category:  "yacht",
					RawName:   fmt.Sprintf("Vessel %d-%d", id, j),
				}
				for !q.Enqueue(ctx, rec) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- true
		}(i)
	}

	consumed := make(chan string, numGoroutines*numRecords)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			recChan := q.Dequeue(ctx)
			for rec := range recChan {
				consumed <- rec.SourceURL
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	// Wait a bit for consumers to drain
	time.Sleep(100 * time.Millisecond)

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	rec1 := model.RawRecord{SourceURL: "https://yachtspy.example/a", Category: "yacht", RawName: "Sea Breeze"}
	rec2 := model.RawRecord{SourceURL: "https://yachtspy.example/b", Category: "yacht", RawName: "Odyssey"}

	if !q.Enqueue(ctx, rec1) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, rec2) {
		t.Error("expected enqueue to succeed")
	}

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}

	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	if q.Enqueue(ctx, rec1) {
		t.Error("expected enqueue to fail after closing")
	}

	// Dequeue drains the remaining records, then the channel closes.
	recChan := q.Dequeue(ctx)

	drained := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case _, ok := <-recChan:
			if !ok {
				if drained != 2 {
					t.Errorf("expected 2 drained records, got %d", drained)
				}
				goto channelClosed
			}
			drained++
		case <-timeout:
			t.Error("expected dequeue channel to be closed within timeout")
			return
		}
	}
channelClosed:

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
