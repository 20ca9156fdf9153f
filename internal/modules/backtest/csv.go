package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
)

// WriteStepsCSV writes one row per simulated step: time, portfolio value, solver
// convergence, violated relations and the post-trade weight of every universe entry.
func WriteStepsCSV(w io.Writer, universe domain.Universe, res *Result) error {
	cw := csv.NewWriter(w)

	names := universe.Names()
	header := []string{"time", "value", "converged", "violated"}
	for _, name := range names {
		header = append(header, "w_"+name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, s := range res.Steps {
		if len(s.Weights) != len(names) {
			return fmt.Errorf("step %d has %d weights for %d universe entries", i, len(s.Weights), len(names))
		}
		row := []string{
			s.Time.UTC().Format(time.RFC3339),
			fmtFloat(s.Value),
			strconv.FormatBool(s.Converged),
			strings.Join(s.Violated, "|"),
		}
		for _, w := range s.Weights {
			row = append(row, fmtFloat(w))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
