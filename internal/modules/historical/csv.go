package historical

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var barHeader = []string{"asset", "date", "return", "volume"}

// ReadBarsCSV parses daily bars from CSV with the header asset,date,return,volume.
// Dates are YYYY-MM-DD or RFC3339.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = len(barHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("bars csv: missing header")
		}
		return nil, fmt.Errorf("bars csv: %w", err)
	}
	for i, name := range barHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, fmt.Errorf("bars csv: column %d is %q, want %q", i+1, header[i], name)
		}
	}

	var bars []Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bars csv: %w", err)
		}
		bar, err := parseBar(rec)
		if err != nil {
			return nil, fmt.Errorf("bars csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(rec []string) (Bar, error) {
	asset := strings.TrimSpace(rec[0])
	if asset == "" {
		return Bar{}, fmt.Errorf("empty asset")
	}
	date, err := parseDate(strings.TrimSpace(rec[1]))
	if err != nil {
		return Bar{}, err
	}
	ret, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return Bar{}, fmt.Errorf("return: %w", err)
	}
	vol, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
	if err != nil {
		return Bar{}, fmt.Errorf("volume: %w", err)
	}
	return Bar{Asset: asset, Date: date, Return: ret, Volume: vol}, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}
