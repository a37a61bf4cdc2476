package stencil

import (
	"runtime"
	"sync"

	"github.com/samcharles93/hybridstencil/internal/grid"
)

type rowTask struct {
	dst, src []float32
	layout   grid.Layout
	rowStart int
	rowCount int
	done     chan struct{}
}

// Pool evaluates row ranges on a fixed set of worker goroutines. Every
// worker writes a disjoint band of rows, so no locking is needed around
// dst.
type Pool struct {
	size      int
	tasks     chan rowTask
	doneSlots chan chan struct{}
	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers. A non-positive
// count means GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		size:      workers,
		tasks:     make(chan rowTask, workers*2),
		doneSlots: make(chan chan struct{}, workers),
	}
	for i := 0; i < workers; i++ {
		p.doneSlots <- make(chan struct{}, workers)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for task := range p.tasks {
				Rows(task.dst, task.src, task.layout, task.rowStart, task.rowCount)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Apply evaluates rows [rowStart, rowStart+rowCount) of src into dst and
// returns once every band is written.
func (p *Pool) Apply(dst, src []float32, l grid.Layout, rowStart, rowCount int) {
	if rowCount <= 0 {
		return
	}
	workers := min(p.size, rowCount)
	if workers <= 1 {
		Rows(dst, src, l, rowStart, rowCount)
		return
	}

	chunk := (rowCount + workers - 1) / workers
	done := <-p.doneSlots
	sent := 0
	for rs := rowStart; rs < rowStart+rowCount; rs += chunk {
		n := min(chunk, rowStart+rowCount-rs)
		p.tasks <- rowTask{
			dst:      dst,
			src:      src,
			layout:   l,
			rowStart: rs,
			rowCount: n,
			done:     done,
		}
		sent++
	}
	for i := 0; i < sent; i++ {
		<-done
	}
	p.doneSlots <- done
}

// Close stops the workers. Apply must not be called afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
}
