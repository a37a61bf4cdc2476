package sweep

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the timestamp format of the .dat header and footer.
const DateLayout = "Mon Jan _2 15:04:05 MST 2006"

// WriteDatHeader writes the comment lines that open a .dat file.
func WriteDatHeader(w io.Writer, plan Plan, start time.Time) error {
	_, err := fmt.Fprintf(w, "#MATRIX_SIZE : %d\n#START : %s\n#num_iteration\tydim_gpu\tspeedup\tstddev\n",
		plan.Size, start.Format(DateLayout))
	return err
}

// WriteDatRow writes one tab separated result line.
func WriteDatRow(w io.Writer, r Result) error {
	_, err := fmt.Fprintf(w, "%d\t%d\t%f\t%f\n", r.Iterations, r.AccelRows, r.Speedup, r.StdDev)
	return err
}

// WriteDatFooter writes the closing comment line.
func WriteDatFooter(w io.Writer, end time.Time) error {
	_, err := fmt.Fprintf(w, "#END : %s\n", end.Format(DateLayout))
	return err
}

// WriteDat writes a complete .dat file for results.
func WriteDat(w io.Writer, plan Plan, results []Result, start, end time.Time) error {
	bw := bufio.NewWriter(w)
	if err := WriteDatHeader(bw, plan, start); err != nil {
		return err
	}
	for _, r := range results {
		if err := WriteDatRow(bw, r); err != nil {
			return err
		}
	}
	if err := WriteDatFooter(bw, end); err != nil {
		return err
	}
	return bw.Flush()
}

// Summary is the JSON form of a finished sweep.
type Summary struct {
	Plan    Plan      `json:"plan"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Results []Result  `json:"results"`
}

// WriteJSON writes the sweep as an indented JSON document.
func WriteJSON(w io.Writer, plan Plan, results []Result, start, end time.Time) error {
	data, err := json.MarshalIndent(Summary{Plan: plan, Start: start, End: end, Results: results}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sweep: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
