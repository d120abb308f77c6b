package stats

import (
	"math"
	"sync"
	"testing"
)

func TestObserveEMA(t *testing.T) {
	q := New(0.1)
	k := Key{VertexClass: "Person", EdgeClass: "Friend", Direction: "out"}

	if _, ok := q.Fanout(k); ok {
		t.Fatal("missing stat must report absent")
	}

	q.Observe(k, 10)
	if v, _ := q.Fanout(k); v != 10 {
		t.Fatalf("first sample seeds average: got %v", v)
	}

	q.Observe(k, 0)
	if v, _ := q.Fanout(k); math.Abs(v-9) > 1e-9 {
		t.Fatalf("0.9*10 + 0.1*0 = 9, got %v", v)
	}
}

func TestInvalidAlphaFallsBack(t *testing.T) {
	for _, alpha := range []float64{0, -1, 2} {
		if New(alpha).alpha != DefaultAlpha {
			t.Errorf("alpha %v should fall back", alpha)
		}
	}
}

func TestConcurrentObserve(t *testing.T) {
	q := New(0.5)
	k := Key{VertexClass: "V", EdgeClass: "E", Direction: "in"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Observe(k, 4)
			}
		}()
	}
	wg.Wait()

	if v, ok := q.Fanout(k); !ok || v != 4 {
		t.Errorf("constant samples must converge exactly: %v", v)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d", q.Len())
	}
	if Global() != Global() {
		t.Error("Global must be a singleton")
	}
}
