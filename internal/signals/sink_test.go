package signals

import "testing"

func TestSinkCollapsesBurstToOnePerClass(t *testing.T) {
	s := NewSink()
	for i := 0; i < 5; i++ {
		s.Raise(ClassStop)
	}
	s.Raise(ClassReopenLogs)

	drained := s.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected exactly 2 distinct classes, got %d: %v", len(drained), drained)
	}
	seen := map[Class]bool{}
	for _, c := range drained {
		seen[c] = true
	}
	if !seen[ClassStop] || !seen[ClassReopenLogs] {
		t.Fatalf("expected ClassStop and ClassReopenLogs, got %v", drained)
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	s := NewSink()
	if got := s.Drain(); got != nil {
		t.Fatalf("expected nil from empty sink, got %v", got)
	}
}

func TestDrainClearsPending(t *testing.T) {
	s := NewSink()
	s.Raise(ClassStop)
	s.Drain()
	if got := s.Drain(); len(got) != 0 {
		t.Fatalf("expected second Drain to be empty, got %v", got)
	}
}
