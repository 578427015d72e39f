package schedule

import (
	"errors"
	"testing"
)

func TestBuildEmptyForZeroRepeats(t *testing.T) {
	s, err := Build(8000, 11500, 10, 0, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty schedule, got %d windows", s.Len())
	}
}

func TestBuildSingleWindow(t *testing.T) {
	s, err := Build(8000, 11500, 10, 1, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 window, got %d", s.Len())
	}
	w := s.Windows[0]
	if w.Start != 8000 || w.End != 8010 {
		t.Fatalf("expected [8000, 8010], got [%d, %d]", w.Start, w.End)
	}
}

func TestBuildSingleWindowClippedToEnd(t *testing.T) {
	s, err := Build(100, 105, 10, 1, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	w := s.Windows[0]
	if w.Start != 100 || w.End != 105 {
		t.Fatalf("expected [100, 105], got [%d, %d]", w.Start, w.End)
	}
	if len(s.Clips) != 1 {
		t.Fatalf("expected a clip warning, got %v", s.Clips)
	}
}

func TestBuildSortedEqualLength(t *testing.T) {
	s, err := Build(4400, 11500, 25, 7, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Len() != 7 {
		t.Fatalf("expected 7 windows, got %d", s.Len())
	}
	for i, w := range s.Windows {
		if w.Len() != 25 {
			t.Errorf("window %d: expected length 25, got %d", i, w.Len())
		}
		if w.Start < 4400 || w.End > 11500 {
			t.Errorf("window %d outside span: %+v", i, w)
		}
		if i > 0 && w.Start <= s.Windows[i-1].Start {
			t.Errorf("window %d not sorted after %d", i, i-1)
		}
	}
	last := s.Windows[6]
	if last.End != 11500 {
		t.Errorf("expected last window to end at 11500, got %d", last.End)
	}
	if len(s.Overlaps) != 0 {
		t.Errorf("expected no overlaps, got %v", s.Overlaps)
	}
}

func TestBuildOverlapWarningIsNonFatal(t *testing.T) {
	// 5 windows of 40 steps in a 100 step span must overlap
	s, err := Build(0, 100, 40, 5, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Len() != 5 {
		t.Fatalf("merge policy should keep all windows, got %d", s.Len())
	}
	if len(s.Overlaps) == 0 {
		t.Fatal("expected overlap warnings")
	}
	o := s.Overlaps[0]
	if o.First != 0 || o.Second != 1 {
		t.Fatalf("expected first overlap between 0 and 1, got %+v", o)
	}
	if o.Step != 15 || o.Shared != 26 {
		t.Fatalf("expected overlap from step 15 for 26 steps, got %+v", o)
	}
	var ow OverlapWarning
	if !errors.As(s.Warnings()[0], &ow) {
		t.Fatalf("expected OverlapWarning in warnings, got %T", s.Warnings()[0])
	}
}

func TestBuildQueuePolicy(t *testing.T) {
	s, err := Build(0, 100, 20, 4, PolicyQueue)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// starts 0, 26, 53, 80: all fit after queueing since spacing exceeds 20
	for i := 1; i < s.Len(); i++ {
		if s.Windows[i].Start <= s.Windows[i-1].End {
			t.Fatalf("queued windows %d and %d still overlap: %+v", i-1, i, s.Windows)
		}
	}

	s, err = Build(0, 100, 40, 5, PolicyQueue)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 1; i < s.Len(); i++ {
		if s.Windows[i].Overlaps(s.Windows[i-1]) {
			t.Fatalf("queued windows overlap: %+v", s.Windows)
		}
	}
	if s.Len() >= 5 {
		t.Fatalf("expected windows that no longer fit to be dropped, got %d", s.Len())
	}
	if s.Windows[1].Cycle != 1 {
		t.Fatalf("queued window should keep its cycle index, got %d", s.Windows[1].Cycle)
	}
}

func TestBuildDropPolicy(t *testing.T) {
	s, err := Build(0, 100, 40, 5, PolicyDrop)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 1; i < s.Len(); i++ {
		if s.Windows[i].Overlaps(s.Windows[i-1]) {
			t.Fatalf("drop policy left overlap: %+v", s.Windows)
		}
	}
	if s.Windows[0].Cycle != 0 {
		t.Fatalf("first window must survive, got %+v", s.Windows[0])
	}
}

func TestBuildZeroLengthClippedToOneStep(t *testing.T) {
	s, err := Build(100, 200, 0, 1, PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	w := s.Windows[0]
	if w.Start != 100 || w.End != 101 {
		t.Fatalf("expected one step window [100, 101], got [%d, %d]", w.Start, w.End)
	}
	if len(s.Clips) != 1 || s.Clips[0].Clipped != 1 {
		t.Fatalf("expected clip to 1 step, got %v", s.Clips)
	}
}

func TestBuildInvalidSpan(t *testing.T) {
	if _, err := Build(100, 100, 1, 1, PolicyMerge); !errors.Is(err, ErrInvalidSpan) {
		t.Fatalf("expected ErrInvalidSpan, got %v", err)
	}
	if _, err := Build(0, 100, 1, 1, "shuffle"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestLinspaceTruncates(t *testing.T) {
	got := linspace(0, 60, 4)
	want := []int{0, 20, 40, 60}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	got = linspace(0, 10, 4)
	want = []int{0, 3, 6, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
