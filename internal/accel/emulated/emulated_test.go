package emulated

import (
	"errors"
	"testing"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/grid"
	"github.com/samcharles93/hybridstencil/internal/stencil"
)

var testSource = accel.KernelSource{
	Path: "stencil.cl",
	Text: "__kernel void stencil(__global float *B, __global const float *A, unsigned int line_size) {}",
}

func openContext(t *testing.T) accel.Context {
	t.Helper()
	b := New()
	devs, err := b.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	ctx, err := b.Open(devs[0], testSource)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	b, err := accel.Lookup(accel.Emulated)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if b.Name() != accel.Emulated {
		t.Fatalf("got %q", b.Name())
	}
}

func TestOpenRejectsBadKernel(t *testing.T) {
	t.Parallel()

	b := New()
	devs, _ := b.Devices()
	_, err := b.Open(devs[0], accel.KernelSource{Path: "x.cl", Text: "__kernel void other() {}"})
	var se *accel.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := openContext(t)
	buf, err := ctx.NewBuffer(8)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if err := buf.Write(2, []float32{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]float32, 4)
	if err := buf.Read(1, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []float32{0, 1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
	if err := buf.Write(6, []float32{1, 2, 3}); !errors.Is(err, accel.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	_ = buf.Close()
	if err := buf.Read(0, got); !errors.Is(err, accel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitMatchesRows(t *testing.T) {
	t.Parallel()

	ctx := openContext(t)
	l := grid.Layout{XDim: 16, YDim: 9}
	src := make([]float32, l.TotalSize())
	for i := range src {
		src[i] = float32(i%97) + 0.5
	}
	want := make([]float32, len(src))
	copy(want, src)
	stencil.Rows(want, src, l, 0, l.YDim)

	in, _ := ctx.NewBuffer(l.TotalSize())
	out, _ := ctx.NewBuffer(l.TotalSize())
	if err := in.Write(0, src); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Write(0, src); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p, err := ctx.Submit(accel.Job{Dst: out, Src: in, Layout: l})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := make([]float32, len(src))
	if err := out.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestSubmitRejectsShortBuffers(t *testing.T) {
	t.Parallel()

	ctx := openContext(t)
	l := grid.Layout{XDim: 16, YDim: 4}
	small, _ := ctx.NewBuffer(10)
	big, _ := ctx.NewBuffer(l.TotalSize())
	if _, err := ctx.Submit(accel.Job{Dst: big, Src: small, Layout: l}); !errors.Is(err, accel.ErrBadJob) {
		t.Fatalf("expected ErrBadJob, got %v", err)
	}
}

func TestCloseWhileRunning(t *testing.T) {
	t.Parallel()

	ctx := openContext(t)
	l := grid.Layout{XDim: 256, YDim: 256}
	in, _ := ctx.NewBuffer(l.TotalSize())
	out, _ := ctx.NewBuffer(l.TotalSize())

	p, err := ctx.Submit(accel.Job{Dst: out, Src: in, Layout: l})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_ = out.Close()
	_ = in.Close()
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := out.Read(0, make([]float32, 4)); !errors.Is(err, accel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := ctx.Submit(accel.Job{Dst: out, Src: in, Layout: l}); err == nil {
		t.Fatal("submit on closed buffers succeeded")
	}
}

func TestClosedContext(t *testing.T) {
	t.Parallel()

	ctx := openContext(t)
	_ = ctx.Close()
	if _, err := ctx.NewBuffer(4); !errors.Is(err, accel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
