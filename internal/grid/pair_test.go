package grid

import "testing"

func TestPairRolesAlternate(t *testing.T) {
	t.Parallel()

	p, err := NewPair(Layout{XDim: 4, YDim: 4})
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer func() { _ = p.Free() }()

	for i := 0; i < 6; i++ {
		src, dst := p.Roles(i)
		if src == dst {
			t.Fatalf("iteration %d: source and destination are the same grid", i)
		}
		if i%2 == 0 && (src != p.A || dst != p.B) {
			t.Fatalf("iteration %d: expected A -> B", i)
		}
		if i%2 == 1 && (src != p.B || dst != p.A) {
			t.Fatalf("iteration %d: expected B -> A", i)
		}
		if i > 0 {
			_, prevDst := p.Roles(i - 1)
			if src != prevDst {
				t.Fatalf("iteration %d does not read the previous output", i)
			}
		}
	}
}

func TestPairFinalParity(t *testing.T) {
	t.Parallel()

	p, err := NewPair(Layout{XDim: 4, YDim: 4})
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer func() { _ = p.Free() }()

	tests := []struct {
		n    int
		want *Grid
	}{
		{0, p.A},
		{1, p.B},
		{2, p.A},
		{7, p.B},
		{50, p.A},
	}
	for _, tc := range tests {
		if got := p.Final(tc.n); got != tc.want {
			t.Errorf("Final(%d): wrong grid", tc.n)
		}
		if tc.n > 0 {
			_, dst := p.Roles(tc.n - 1)
			if dst != p.Final(tc.n) {
				t.Errorf("Final(%d) is not the last destination", tc.n)
			}
		}
	}
}

func TestPairFillCopiesContents(t *testing.T) {
	t.Parallel()

	p, err := NewPair(Layout{XDim: 8, YDim: 8})
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer func() { _ = p.Free() }()

	p.Fill(99)
	for i := range p.A.Data {
		if p.A.Data[i] != p.B.Data[i] {
			t.Fatalf("index %d differs after Fill", i)
		}
	}
}
