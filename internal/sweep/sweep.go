// Package sweep measures the hybrid speedup over a grid of iteration counts
// and accelerator partition sizes.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidPlan is wrapped by Plan.Validate errors.
var ErrInvalidPlan = errors.New("invalid sweep plan")

// Plan describes the points of a sweep. The grid is Size x Size; the
// iteration count runs from 1 to MaxIterations in steps of IterationStep and
// the accelerator row count from 0 to Size in steps of AccelStep. Every
// point is measured Repeat times.
type Plan struct {
	Size          int `json:"size"`
	MaxIterations int `json:"max_iterations"`
	IterationStep int `json:"iteration_step"`
	AccelStep     int `json:"accel_step"`
	Repeat        int `json:"repeat"`
}

// DefaultPlan is the stock sweep over an 8192x8192 grid.
func DefaultPlan() Plan {
	return Plan{
		Size:          8192,
		MaxIterations: 50,
		IterationStep: 5,
		AccelStep:     256,
		Repeat:        5,
	}
}

// Validate reports the first invalid field.
func (p Plan) Validate() error {
	switch {
	case p.Size < 1:
		return fmt.Errorf("%w: size must be >= 1, got %d", ErrInvalidPlan, p.Size)
	case p.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations must be >= 1, got %d", ErrInvalidPlan, p.MaxIterations)
	case p.IterationStep < 1:
		return fmt.Errorf("%w: iteration step must be >= 1, got %d", ErrInvalidPlan, p.IterationStep)
	case p.AccelStep < 1:
		return fmt.Errorf("%w: accel step must be >= 1, got %d", ErrInvalidPlan, p.AccelStep)
	case p.Repeat < 1:
		return fmt.Errorf("%w: repeat must be >= 1, got %d", ErrInvalidPlan, p.Repeat)
	}
	return nil
}

// Point is one configuration of the sweep.
type Point struct {
	Iterations int `json:"iterations"`
	AccelRows  int `json:"accel_rows"`
}

// Points enumerates the plan, iteration count major.
func (p Plan) Points() []Point {
	if p.Validate() != nil {
		return nil
	}
	var pts []Point
	for it := 1; it <= p.MaxIterations; it += p.IterationStep {
		for rows := 0; rows <= p.Size; rows += p.AccelStep {
			pts = append(pts, Point{Iterations: it, AccelRows: rows})
		}
	}
	return pts
}

// Result is the aggregated speedup of one point.
type Result struct {
	Point
	Speedup float64   `json:"speedup"`
	StdDev  float64   `json:"stddev"`
	Samples []float64 `json:"samples"`
}

// Runner measures a point once and returns its speedup over the reference.
type Runner func(ctx context.Context, pt Point) (float64, error)

// Run measures every point of plan Repeat times. sink, when non-nil, is
// called with each result as soon as it is available. Run stops at the
// first runner error or when ctx is done, returning the results gathered so
// far.
func Run(ctx context.Context, plan Plan, runner Runner, sink func(Result)) ([]Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	pts := plan.Points()
	results := make([]Result, 0, len(pts))
	for _, pt := range pts {
		samples := make([]float64, 0, plan.Repeat)
		for range plan.Repeat {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			v, err := runner(ctx, pt)
			if err != nil {
				return results, fmt.Errorf("sweep point iterations=%d accel_rows=%d: %w", pt.Iterations, pt.AccelRows, err)
			}
			samples = append(samples, v)
		}
		r := aggregate(pt, samples)
		results = append(results, r)
		if sink != nil {
			sink(r)
		}
	}
	return results, nil
}

func aggregate(pt Point, samples []float64) Result {
	r := Result{Point: pt, Samples: samples}
	if len(samples) == 1 {
		r.Speedup = samples[0]
		return r
	}
	r.Speedup, r.StdDev = stat.MeanStdDev(samples, nil)
	if math.IsNaN(r.StdDev) {
		r.StdDev = 0
	}
	return r
}
