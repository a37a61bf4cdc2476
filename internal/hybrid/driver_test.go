package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/accel/emulated"
	"github.com/samcharles93/hybridstencil/internal/grid"
	"github.com/samcharles93/hybridstencil/internal/stencil"
)

func openDevice(t *testing.T) accel.Context {
	t.Helper()
	b := emulated.New()
	devs, err := b.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	dev, err := b.Open(devs[0], accel.KernelSource{Text: "__kernel void stencil(__global float *B) {}"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func newPair(t *testing.T, cfg Config) *grid.Pair {
	t.Helper()
	p, err := grid.NewPair(cfg.Layout())
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	t.Cleanup(func() { _ = p.Free() })
	p.Fill(cfg.Seed)
	return p
}

// reference runs the single-threaded solver on a fresh pair with the same
// initial state and returns the result grid.
func reference(t *testing.T, cfg Config) *grid.Grid {
	t.Helper()
	return stencil.RunReference(newPair(t, cfg), cfg.Iterations)
}

func runDriver(t *testing.T, cfg Config, dev accel.Context, opts ...Option) *Result {
	t.Helper()
	d, err := New(cfg, dev, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)
	res, err := d.Run(context.Background(), newPair(t, cfg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func countMismatches(want, got *grid.Grid) int {
	n := 0
	l := want.Layout
	for y := 0; y < l.YDim; y++ {
		for x := 0; x < l.XDim; x++ {
			if want.At(x, y) != got.At(x, y) {
				n++
			}
		}
	}
	return n
}

func TestRunMatchesReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"cpu only", Config{XDim: 32, YDim: 24, AccelRows: 0, Iterations: 5, Workers: 3, Seed: 1}},
		{"accel only", Config{XDim: 32, YDim: 24, AccelRows: 24, Iterations: 5, Workers: 2, Seed: 2}},
		{"even split", Config{XDim: 16, YDim: 16, AccelRows: 8, Iterations: 1, Workers: 2, Seed: 1234}},
		{"uneven split", Config{XDim: 48, YDim: 37, AccelRows: 11, Iterations: 7, Workers: 4, Seed: 3}},
		{"one accel row", Config{XDim: 16, YDim: 9, AccelRows: 1, Iterations: 4, Workers: 1, Seed: 4}},
		{"one cpu row", Config{XDim: 16, YDim: 9, AccelRows: 8, Iterations: 4, Workers: 1, Seed: 5}},
		{"zero iterations", Config{XDim: 16, YDim: 16, AccelRows: 8, Iterations: 0, Workers: 2, Seed: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var dev accel.Context
			if tt.cfg.AccelRows > 0 {
				dev = openDevice(t)
			}
			res := runDriver(t, tt.cfg, dev)
			want := reference(t, tt.cfg)
			if n := countMismatches(want, res.Final); n != 0 {
				t.Fatalf("%d cells differ from the reference", n)
			}
			if res.Iterations != tt.cfg.Iterations {
				t.Fatalf("iterations: got %d want %d", res.Iterations, tt.cfg.Iterations)
			}
		})
	}
}

func TestRunFinalParity(t *testing.T) {
	t.Parallel()

	dev := openDevice(t)
	for _, n := range []int{3, 4} {
		cfg := Config{XDim: 16, YDim: 12, AccelRows: 5, Iterations: n, Workers: 2, Seed: 9}
		d, err := New(cfg, dev)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		pair := newPair(t, cfg)
		res, err := d.Run(context.Background(), pair)
		d.Close()
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.FinalIndex != n%2 || res.Final != pair.Get(n%2) {
			t.Fatalf("n=%d: final index %d", n, res.FinalIndex)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()

	cfg := Config{XDim: 32, YDim: 20, AccelRows: 7, Iterations: 6, Workers: 3, Seed: 77}
	a := runDriver(t, cfg, openDevice(t))
	b := runDriver(t, cfg, openDevice(t))
	if n := countMismatches(a.Final, b.Final); n != 0 {
		t.Fatalf("two runs differ in %d cells", n)
	}
}

func TestRunEvents(t *testing.T) {
	t.Parallel()

	var got []Event
	cfg := Config{XDim: 16, YDim: 8, AccelRows: 4, Iterations: 2, Workers: 1, Seed: 1}
	runDriver(t, cfg, openDevice(t), WithObserver(func(e Event) { got = append(got, e) }))

	want := []Event{
		{0, StateDispatch}, {0, StateWait}, {0, StateExchange},
		{1, StateDispatch}, {1, StateWait}, {1, StateExchange},
		{2, StateDone},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestRunSharedPool(t *testing.T) {
	t.Parallel()

	pool := stencil.NewPool(2)
	defer pool.Close()
	cfg := Config{XDim: 16, YDim: 16, AccelRows: 0, Iterations: 3, Seed: 5}
	for range 2 {
		res := runDriver(t, cfg, nil, WithPool(pool))
		if n := countMismatches(reference(t, cfg), res.Final); n != 0 {
			t.Fatalf("%d cells differ", n)
		}
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	cfg := Config{XDim: 16, YDim: 8, AccelRows: 4, Iterations: 3, Workers: 1, Seed: 1}
	d, err := New(cfg, openDevice(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Run(ctx, newPair(t, cfg)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type failingContext struct {
	accel.Context
	err error
}

func (f failingContext) Submit(accel.Job) (accel.Pending, error) {
	return nil, f.err
}

func TestRunBackendErrorAborts(t *testing.T) {
	t.Parallel()

	boom := accel.Status("clEnqueueNDRangeKernel", -5)
	cfg := Config{XDim: 16, YDim: 8, AccelRows: 4, Iterations: 3, Workers: 1, Seed: 1}
	d, err := New(cfg, failingContext{Context: openDevice(t), err: boom})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	_, err = d.Run(context.Background(), newPair(t, cfg))
	var se *accel.StatusError
	if !errors.As(err, &se) || se.Code != -5 {
		t.Fatalf("expected status error -5, got %v", err)
	}
}

func TestRunLayoutMismatch(t *testing.T) {
	t.Parallel()

	cfg := Config{XDim: 16, YDim: 8, Iterations: 1}
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	other := Config{XDim: 32, YDim: 8}
	if _, err := d.Run(context.Background(), newPair(t, other)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewRequiresDevice(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{XDim: 16, YDim: 8, AccelRows: 1}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()

	for st := StateDispatch; st <= StateDone; st++ {
		b, err := st.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var back State
		if err := back.UnmarshalText(b); err != nil || back != st {
			t.Fatalf("%s: round trip gave %v, %v", b, back, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("launch")); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
