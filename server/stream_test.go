// stream_test.go - Tests fuer den Per-Request Token-Stream
//
// Deckt ab: Push/Drain-Reihenfolge, Backpressure-Schliessung bei
// langsamem Consumer, Idempotenz von Close und das strikte
// Groesser-als beim Idle-Timeout.
package server

import (
	"testing"
	"time"
)

func tok(i int) StreamToken {
	return StreamToken{Token: "t", TokenID: i}
}

func TestPushDrainOrder(t *testing.T) {
	s := newTokenStream("r1", 10, time.Minute, time.Second)

	for i := 0; i < 5; i++ {
		if got := s.Push(tok(i)); got != PushAccepted {
			t.Fatalf("Push(%d) = %v, erwartet PushAccepted", i, got)
		}
	}
	s.Close(CloseEndOfStream, "")

	for i := 0; i < 5; i++ {
		got := <-s.Drain()
		if got.TokenID != i {
			t.Errorf("Drain-Reihenfolge: Position %d hat TokenID %d", i, got.TokenID)
		}
	}
}

func TestPushAfterCloseReturnsClosed(t *testing.T) {
	s := newTokenStream("r1", 10, time.Minute, time.Second)
	s.Close(CloseCancelled, "")

	if got := s.Push(tok(0)); got != PushClosed {
		t.Fatalf("Push nach Close = %v, erwartet PushClosed", got)
	}
}

func TestBackpressureClosesSlowConsumer(t *testing.T) {
	// Puffer 2, Push-Wartezeit 50ms, kein Consumer.
	s := newTokenStream("r1", 2, time.Minute, 50*time.Millisecond)

	if got := s.Push(tok(0)); got != PushAccepted {
		t.Fatalf("Push(0) = %v", got)
	}
	if got := s.Push(tok(1)); got != PushAccepted {
		t.Fatalf("Push(1) = %v", got)
	}

	start := time.Now()
	if got := s.Push(tok(2)); got != PushClosed {
		t.Fatalf("Push(2) bei vollem Puffer = %v, erwartet PushClosed", got)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Push kehrte nach %v zurueck, erwartet >= 50ms Wartezeit", elapsed)
	}

	if !s.IsClosed() {
		t.Fatal("Stream sollte nach Backpressure-Timeout geschlossen sein")
	}
	if reason, _ := s.Reason(); reason != CloseSlowConsumer {
		t.Errorf("Reason = %q, erwartet %q", reason, CloseSlowConsumer)
	}

	if s.Snapshot().BackpressureHits == 0 {
		t.Error("Backpressure-Zaehler wurde nicht erhoeht")
	}

	// Die beiden gelieferten Tokens bleiben abholbar.
	if got := <-s.Drain(); got.TokenID != 0 {
		t.Errorf("erster gepufferter Token hat ID %d", got.TokenID)
	}
}

func TestBackpressureRecoversWhenConsumerCatchesUp(t *testing.T) {
	s := newTokenStream("r1", 1, time.Minute, 500*time.Millisecond)

	if got := s.Push(tok(0)); got != PushAccepted {
		t.Fatalf("Push(0) = %v", got)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-s.Drain()
	}()

	// Blockiert kurz, bis der Consumer Platz schafft.
	if got := s.Push(tok(1)); got != PushAccepted {
		t.Fatalf("Push(1) = %v, erwartet PushAccepted nach Consumer-Aufholen", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTokenStream("r1", 10, time.Minute, time.Second)

	s.Close(CloseTimeout, "")
	s.Close(CloseInferenceErr, "spaeter")

	reason, errMsg := s.Reason()
	if reason != CloseTimeout {
		t.Errorf("Reason = %q, erster Close muss gewinnen", reason)
	}
	if errMsg != "" {
		t.Errorf("errMsg = %q, erwartet leer", errMsg)
	}
}

func TestIdleExpiryIsStrictlyGreater(t *testing.T) {
	s := newTokenStream("r1", 10, 80*time.Millisecond, time.Second)

	if s.IsIdleExpired() {
		t.Fatal("frisch erzeugter Stream darf nicht idle-abgelaufen sein")
	}

	time.Sleep(20 * time.Millisecond)
	if s.IsIdleExpired() {
		t.Fatal("Stream unterhalb des Idle-Timeouts darf nicht ablaufen")
	}

	time.Sleep(100 * time.Millisecond)
	if !s.IsIdleExpired() {
		t.Fatal("Stream oberhalb des Idle-Timeouts muss ablaufen")
	}

	// Ein Push setzt die Idle-Uhr zurueck.
	s.Push(tok(0))
	if s.IsIdleExpired() {
		t.Fatal("Push muss die Idle-Uhr zuruecksetzen")
	}
}

func TestDoneUnblocksWaiters(t *testing.T) {
	s := newTokenStream("r1", 10, time.Minute, time.Second)

	done := make(chan struct{})
	go func() {
		<-s.Done()
		close(done)
	}()

	s.Close(CloseShutdown, "")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done() hat den Wartenden nicht geweckt")
	}
}
