package bridge

import (
	"fmt"
	"reflect"
	"testing"
)

func TestRingAppendAndSnapshot(t *testing.T) {
	r := newRing(3)
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("empty ring snapshot = %v", got)
	}

	r.Append("a")
	r.Append("b")
	if got := r.Snapshot(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("snapshot = %v", got)
	}

	r.Append("c")
	r.Append("d") // evicts a
	if got := r.Snapshot(); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("snapshot after wrap = %v", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestRingDropsOldestUnderSustainedPressure(t *testing.T) {
	r := newRing(5)
	for i := 0; i < 100; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
	}
	want := []string{"line-95", "line-96", "line-97", "line-98", "line-99"}
	if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("snapshot = %v, want %v", got, want)
	}
}
