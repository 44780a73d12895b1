package trace

import (
	"bytes"
	"sync"
	"testing"
)

func sampleTrace() RunTrace {
	r := NewRecorder()
	r.Record(Event{TaskID: "a", Kind: "grouping", From: "CREATED", To: "LOADED"})
	r.Record(Event{TaskID: "a", Kind: "grouping", From: "LOADED", To: "DONE", CacheHit: true})
	r.Record(Event{TaskID: "b", Kind: "alignment", From: "CREATED", To: "FAILED", Class: "upstream", CauseTaskID: "a"})
	return r.Trace("graph-abc")
}

func TestRecorder_AssignsSequenceInArrivalOrder(t *testing.T) {
	tr := sampleTrace()
	if len(tr.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(tr.Events))
	}
	for i, e := range tr.Events {
		if e.Seq != i {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCanonicalJSON_ByteForByte(t *testing.T) {
	t1, t2 := sampleTrace(), sampleTrace()
	b1, err := t1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	b2, err := t2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
	if bytes.HasSuffix(b1, []byte("\n")) {
		t.Fatalf("canonical encoding must not end with a newline")
	}
}

func TestHash_OrderSensitive(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.Events[0], b.Events[1] = b.Events[1], b.Events[0]
	b.Events[0].Seq, b.Events[1].Seq = 0, 1

	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha == hb {
		t.Fatalf("reordered transitions must hash differently")
	}
	if got := FirstDivergence(&a, &b); got != 0 {
		t.Fatalf("expected divergence at 0, got %d", got)
	}
}

func TestFirstDivergence(t *testing.T) {
	a, b := sampleTrace(), sampleTrace()
	if got := FirstDivergence(&a, &b); got != -1 {
		t.Fatalf("identical traces diverge at %d", got)
	}
	b.Events = b.Events[:2]
	if got := FirstDivergence(&a, &b); got != 2 {
		t.Fatalf("expected divergence at 2, got %d", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tr := sampleTrace()
	tr.Events[1].Seq = 7
	if err := tr.Validate(); err == nil {
		t.Fatalf("expected seq gap to fail validation")
	}

	tr = sampleTrace()
	tr.GraphHash = ""
	if _, err := tr.CanonicalJSON(); err == nil {
		t.Fatalf("expected missing graph hash to fail")
	}
}

func TestForTask(t *testing.T) {
	tr := sampleTrace()
	if got := tr.ForTask("a"); len(got) != 2 || got[1].To != "DONE" {
		t.Fatalf("unexpected events for a: %+v", got)
	}
}

type panickySink struct{}

func (panickySink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, Event{TaskID: "x"})
	SafeRecord(nil, Event{TaskID: "x"})
	SafeRecord(NopSink{}, Event{TaskID: "x"})
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(Event{TaskID: "t", From: "CREATED", To: "LOADED"})
		}()
	}
	wg.Wait()
	tr := r.Trace("g")
	if err := tr.Validate(); err != nil {
		t.Fatalf("validate after concurrent record: %v", err)
	}
}

func TestComputeTraceHash_Empty(t *testing.T) {
	if ComputeTraceHash(nil) != "" {
		t.Fatalf("empty encoding must hash to empty string")
	}
}
