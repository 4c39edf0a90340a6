package rng

import "testing"

func TestDeterminismSameSeedSameSequence(t *testing.T) {
	a := NewEngine(32, 12345)
	b := NewEngine(32, 12345)
	for i := 0; i < 100; i++ {
		va := a.NextU128()
		vb := b.NextU128()
		for lane := 0; lane < 32; lane++ {
			if va[lane] != vb[lane] {
				t.Fatalf("lane %d diverged at step %d: %v vs %v", lane, i, va[lane], vb[lane])
			}
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := NewEngine(8, 1)
	b := NewEngine(8, 2)
	same := true
	for i := 0; i < 10; i++ {
		va := a.NextU128()
		vb := b.NextU128()
		for lane := range va {
			if va[lane] != vb[lane] {
				same = false
			}
		}
	}
	if same {
		t.Fatalf("expected different seeds to diverge")
	}
}

func TestLanesProduceDistinctStreams(t *testing.T) {
	e := NewEngine(32, 7)
	seen := make(map[word128]bool)
	v := e.NextU128()
	for _, w := range v {
		if seen[w] {
			t.Fatalf("two lanes produced identical output in the same step: %v", w)
		}
		seen[w] = true
	}
}

func TestBranchProducesDisjointStream(t *testing.T) {
	parent := NewEngine(16, 99)
	child := parent.Branch()

	parentVals := make(map[word128]bool)
	for i := 0; i < 50; i++ {
		for _, w := range parent.NextU128() {
			parentVals[w] = true
		}
	}
	collisions := 0
	for i := 0; i < 50; i++ {
		for _, w := range child.NextU128() {
			if parentVals[w] {
				collisions++
			}
		}
	}
	if collisions > 5 {
		t.Fatalf("expected branch()'d child stream to be disjoint from parent, got %d collisions", collisions)
	}
}

func TestNextFloat64InUnitRange(t *testing.T) {
	e := NewEngine(4, 42)
	for i := 0; i < 1000; i++ {
		f := e.NextFloat64()
		if f < 0 || f >= 1 {
			t.Fatalf("NextFloat64 out of [0,1): %v", f)
		}
	}
}

func TestWord128ShiftLeftThenRightClearsHighBits(t *testing.T) {
	w := newWord128(0xffffffffffffffff, 0xffffffffffffffff)
	for _, n := range []uint{0, 1, 7, 63, 64, 65, 100, 127} {
		got := w.shiftLeft(n).shiftRight(n)
		want := w.shiftRight(n) // all-ones input keeps exactly its low 128-n bits
		if got != want {
			t.Fatalf("shiftLeft(%d) then shiftRight(%d) inconsistent: got %+v want %+v", n, n, got, want)
		}
	}
}

func TestWord128RotateRightIsInvolutionAtHalfWidth(t *testing.T) {
	w := newWord128(0xdeadbeefcafebabe, 0x0123456789abcdef)
	r1 := w.rotateRight(64)
	r2 := r1.rotateRight(64)
	if r2 != w {
		t.Fatalf("rotating right by 64 twice should return to start: got %v want %v", r2, w)
	}
}

func TestMul128MatchesSmallCase(t *testing.T) {
	a := newWord128(0, 6)
	b := newWord128(0, 7)
	got := a.mul(b)
	if got.hi != 0 || got.lo != 42 {
		t.Fatalf("6*7 expected {0,42}, got %+v", got)
	}
}
