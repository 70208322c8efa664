package buffer

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	buf := New[int](10, zap.NewNop())
	if buf.Capacity() != 10 {
		t.Errorf("Expected capacity 10, got %d", buf.Capacity())
	}
	if buf.Size() != 0 {
		t.Errorf("Expected size 0, got %d", buf.Size())
	}
}

func TestNew_ZeroCapacity(t *testing.T) {
	buf := New[int](0, zap.NewNop())
	if buf.Capacity() != 1 {
		t.Errorf("Expected capacity clamped to 1, got %d", buf.Capacity())
	}
	buf.Add(7)
	if last, ok := buf.Last(); !ok || last != 7 {
		t.Errorf("Expected last 7, got %d (ok=%v)", last, ok)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	buf := New[int](5, zap.NewNop())
	if items := buf.Snapshot(); items != nil {
		t.Errorf("Expected nil for empty buffer, got %v", items)
	}
	if _, ok := buf.Last(); ok {
		t.Error("Expected Last to report empty buffer")
	}
}

func TestSnapshot_Ordering(t *testing.T) {
	buf := New[int](5, zap.NewNop())
	for i := 1; i <= 3; i++ {
		buf.Add(i)
	}

	items := buf.Snapshot()
	expected := []int{1, 2, 3}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}

	// Snapshot does not consume
	if buf.Size() != 3 {
		t.Errorf("Expected size 3 after snapshot, got %d", buf.Size())
	}
}

func TestNewest(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{n: 2, want: []int{4, 5}},
		{n: 3, want: []int{3, 4, 5}},
		{n: 10, want: []int{3, 4, 5}},
		{n: -1, want: []int{3, 4, 5}},
		{n: 0, want: nil},
	}

	for _, tt := range tests {
		got := buf.Newest(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("Newest(%d): expected %v, got %v", tt.n, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Newest(%d): expected %v, got %v", tt.n, tt.want, got)
				break
			}
		}
	}
}

func TestAdd_Overflow(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}

	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}

	items := buf.Snapshot()
	expected := []int{3, 4, 5}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}

	last, ok := buf.Last()
	if !ok || last != 5 {
		t.Errorf("Expected last 5, got %d", last)
	}
}

func TestConcurrentAccess(t *testing.T) {
	buf := New[int](100, zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				buf.Add(val*10 + j)
				_ = buf.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if size := buf.Size(); size != 100 {
		t.Errorf("Expected size 100, got %d", size)
	}
	if items := buf.Snapshot(); len(items) != 100 {
		t.Errorf("Expected 100 items, got %d", len(items))
	}
}

func TestGenericTypes(t *testing.T) {
	t.Run("struct pointer buffer", func(t *testing.T) {
		type record struct {
			Value int
		}
		buf := New[*record](5, zap.NewNop())
		buf.Add(&record{Value: 123})
		items := buf.Snapshot()
		if len(items) != 1 || items[0].Value != 123 {
			t.Errorf("Expected [{Value:123}], got %v", items)
		}
	})
}
