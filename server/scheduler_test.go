// scheduler_test.go - Tests fuer den Prioritaets-Batch-Scheduler
//
// Deckt ab: strikte Prioritaetsreihenfolge bei der Batch-Formung,
// die Deadline bei einzelnem Slot, Queue-Full und Kontext-Abbruch.
package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/infermesh/infermesh/api"
)

func testSlot(id string, p api.Priority) *Slot {
	return &Slot{RequestID: id, Priority: p, EnqueuedAt: time.Now()}
}

func newTestScheduler(maxQueue, maxBatch int, maxWait time.Duration) *BatchScheduler {
	return NewBatchScheduler(maxQueue, maxBatch, func() time.Duration { return maxWait })
}

func TestPriorityPreemption(t *testing.T) {
	// 40 NORMAL, dann 1 HIGH: erster Batch = HIGH + 31 NORMAL,
	// zweiter Batch = restliche 9 NORMAL.
	s := newTestScheduler(1024, 32, 20*time.Millisecond)

	for i := 0; i < 40; i++ {
		if got := s.Enqueue("m", testSlot(fmt.Sprintf("n%02d", i), api.PriorityNormal)); got != EnqueueAccepted {
			t.Fatalf("Enqueue NORMAL %d = %v", i, got)
		}
	}
	if got := s.Enqueue("m", testSlot("h0", api.PriorityHigh)); got != EnqueueAccepted {
		t.Fatalf("Enqueue HIGH = %v", got)
	}

	ctx := context.Background()
	first := s.NextBatch(ctx, "m")
	if len(first) != 32 {
		t.Fatalf("erster Batch hat %d Slots, erwartet 32", len(first))
	}
	if first[0].RequestID != "h0" {
		t.Errorf("erster Slot = %q, erwartet den HIGH-Slot", first[0].RequestID)
	}
	for i := 1; i < 32; i++ {
		want := fmt.Sprintf("n%02d", i-1)
		if first[i].RequestID != want {
			t.Errorf("Slot %d = %q, erwartet %q (FIFO innerhalb NORMAL)", i, first[i].RequestID, want)
		}
	}

	second := s.NextBatch(ctx, "m")
	if len(second) != 9 {
		t.Fatalf("zweiter Batch hat %d Slots, erwartet 9", len(second))
	}
}

func TestBatchSortedByPriorityThenFIFO(t *testing.T) {
	s := newTestScheduler(1024, 8, 20*time.Millisecond)

	s.Enqueue("m", testSlot("l0", api.PriorityLow))
	s.Enqueue("m", testSlot("n0", api.PriorityNormal))
	s.Enqueue("m", testSlot("h0", api.PriorityHigh))
	s.Enqueue("m", testSlot("h1", api.PriorityHigh))
	s.Enqueue("m", testSlot("n1", api.PriorityNormal))

	batch := s.NextBatch(context.Background(), "m")
	want := []string{"h0", "h1", "n0", "n1", "l0"}
	if len(batch) != len(want) {
		t.Fatalf("Batch hat %d Slots, erwartet %d", len(batch), len(want))
	}
	for i, id := range want {
		if batch[i].RequestID != id {
			t.Errorf("Position %d = %q, erwartet %q", i, batch[i].RequestID, id)
		}
	}
}

func TestSingleSlotWaitsForDeadline(t *testing.T) {
	// Ein einzelner NORMAL-Slot wird erst mit Ablauf der
	// Formations-Deadline als Batch der Groesse 1 ausgegeben.
	s := newTestScheduler(1024, 32, 50*time.Millisecond)
	s.Enqueue("m", testSlot("n0", api.PriorityNormal))

	start := time.Now()
	batch := s.NextBatch(context.Background(), "m")
	elapsed := time.Since(start)

	if len(batch) != 1 {
		t.Fatalf("Batch hat %d Slots, erwartet 1", len(batch))
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Batch kam nach %v, erwartet >= 50ms Deadline", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Batch kam erst nach %v, Deadline wirkt nicht", elapsed)
	}
}

func TestFullBatchReturnsImmediately(t *testing.T) {
	s := newTestScheduler(1024, 4, 10*time.Second)
	for i := 0; i < 4; i++ {
		s.Enqueue("m", testSlot(fmt.Sprintf("n%d", i), api.PriorityNormal))
	}

	start := time.Now()
	batch := s.NextBatch(context.Background(), "m")
	if len(batch) != 4 {
		t.Fatalf("Batch hat %d Slots, erwartet 4", len(batch))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("voller Batch brauchte %v, darf nicht auf die Deadline warten", elapsed)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	s := newTestScheduler(2, 32, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		if got := s.Enqueue("m", testSlot(fmt.Sprintf("n%d", i), api.PriorityNormal)); got != EnqueueAccepted {
			t.Fatalf("Enqueue n%d = %v", i, got)
		}
	}
	if got := s.Enqueue("m", testSlot("n2", api.PriorityNormal)); got != EnqueueQueueFull {
		t.Fatalf("Enqueue in volle NORMAL-Queue = %v, erwartet EnqueueQueueFull", got)
	}

	// Die Kapazitaet gilt pro Prioritaet: HIGH kommt weiterhin durch.
	if got := s.Enqueue("m", testSlot("h0", api.PriorityHigh)); got != EnqueueAccepted {
		t.Fatalf("Enqueue HIGH bei voller NORMAL-Queue = %v", got)
	}
}

func TestNextBatchWakesOnLateEnqueue(t *testing.T) {
	s := newTestScheduler(1024, 32, 30*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Enqueue("m", testSlot("spaet", api.PriorityNormal))
	}()

	batch := s.NextBatch(context.Background(), "m")
	if len(batch) != 1 || batch[0].RequestID != "spaet" {
		t.Fatalf("Batch = %v, erwartet den nachgereichten Slot", batch)
	}
}

func TestNextBatchCtxCancel(t *testing.T) {
	s := newTestScheduler(1024, 32, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if batch := s.NextBatch(ctx, "m"); batch != nil {
		t.Fatalf("NextBatch bei leerer Queue und Abbruch = %v, erwartet nil", batch)
	}
}

func TestQueueDepthsAndModels(t *testing.T) {
	s := newTestScheduler(1024, 32, 10*time.Millisecond)
	s.Enqueue("m", testSlot("h", api.PriorityHigh))
	s.Enqueue("m", testSlot("n", api.PriorityNormal))
	s.Enqueue("m", testSlot("l", api.PriorityLow))

	high, normal, low := s.QueueDepths("m")
	if high != 1 || normal != 1 || low != 1 {
		t.Errorf("QueueDepths = %d/%d/%d, erwartet 1/1/1", high, normal, low)
	}

	if names := s.Models(); len(names) != 1 || names[0] != "m" {
		t.Errorf("Models() = %v", names)
	}
}
