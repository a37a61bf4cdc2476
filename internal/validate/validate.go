// Package validate compares a hybrid result against the reference solver and
// turns run timings into throughput figures.
package validate

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Tolerance is the default relative error above which a cell is a mismatch.
const Tolerance = 1e-6

// DefaultKeep is how many mismatches Compare records by default.
const DefaultKeep = 10

// Mismatch is one cell whose value differs from the reference.
type Mismatch struct {
	Index     int     `json:"index"`
	Actual    float32 `json:"actual"`
	Reference float32 `json:"reference"`
}

type mismatchJSON struct {
	Index     int             `json:"index"`
	Actual    json.RawMessage `json:"actual"`
	Reference json.RawMessage `json:"reference"`
}

// MarshalJSON writes NaN and infinities as the strings "NaN", "+Inf" and
// "-Inf", which JSON numbers cannot hold.
func (m Mismatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(mismatchJSON{
		Index:     m.Index,
		Actual:    appendValue(nil, m.Actual),
		Reference: appendValue(nil, m.Reference),
	})
}

func (m *Mismatch) UnmarshalJSON(b []byte) error {
	var raw mismatchJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	act, err := parseValue(raw.Actual)
	if err != nil {
		return err
	}
	ref, err := parseValue(raw.Reference)
	if err != nil {
		return err
	}
	*m = Mismatch{Index: raw.Index, Actual: act, Reference: ref}
	return nil
}

func appendValue(b []byte, v float32) []byte {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.AppendQuote(b, strconv.FormatFloat(f, 'g', -1, 32))
	}
	return strconv.AppendFloat(b, f, 'g', -1, 32)
}

func parseValue(raw json.RawMessage) (float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if s[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return 0, err
		}
	}
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

// Comparison summarizes a cell-by-cell comparison. MaxRelError only covers
// cells where both values are finite, so it always encodes as a JSON number;
// cells holding NaN or an infinity are counted in NonFinite instead.
type Comparison struct {
	Cells       int        `json:"cells"`
	Mismatches  int        `json:"mismatches"`
	NonFinite   int        `json:"non_finite"`
	First       []Mismatch `json:"first,omitempty"`
	MaxRelError float64    `json:"max_rel_error"`
}

// OK reports whether no cell exceeded the tolerance.
func (c Comparison) OK() bool {
	return c.Mismatches == 0
}

// Compare checks actual against reference element by element. A cell is a
// mismatch when |ref-act|/|ref| exceeds tol, or |ref-act| does when ref is
// zero. A cell where either value is NaN or infinite always mismatches.
// At most keep mismatches are recorded in First, in index order.
// Slices of different length are compared over the shorter one and the
// remainder counts as mismatched.
func Compare(reference, actual []float32, tol float64, keep int) Comparison {
	n := min(len(reference), len(actual))
	c := Comparison{Cells: max(len(reference), len(actual))}
	for i := 0; i < n; i++ {
		ref, act := float64(reference[i]), float64(actual[i])
		bad := !finite(ref) || !finite(act)
		diff := math.Abs(ref - act)
		if ref != 0 {
			diff /= math.Abs(ref)
		}
		if bad {
			c.NonFinite++
		} else if diff > c.MaxRelError {
			c.MaxRelError = diff
		}
		if bad || diff > tol {
			c.Mismatches++
			if len(c.First) < keep {
				c.First = append(c.First, Mismatch{Index: i, Actual: actual[i], Reference: reference[i]})
			}
		}
	}
	c.Mismatches += c.Cells - n
	return c
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Throughput is the effective memory bandwidth of a run in bytes per second:
// every iteration reads and writes the buffer, counted as three transfers.
func Throughput(iterations, bufferBytes int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(iterations) * 3 * float64(bufferBytes) / elapsed.Seconds()
}
