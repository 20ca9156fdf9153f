package domain

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Frame is a time x asset table of market observations (returns, volumes).
// Rows follow Times, columns follow Assets. Data is nil when the frame is empty.
type Frame struct {
	Times  []time.Time
	Assets []string
	Data   *mat.Dense
}

// NewFrame builds a frame from row-major observations.
func NewFrame(times []time.Time, assets []string, rows [][]float64) (*Frame, error) {
	if len(times) != len(rows) {
		return nil, fmt.Errorf("frame has %d timestamps but %d rows", len(times), len(rows))
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("frame has no asset columns")
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("%w: frame row %d", ErrTimelineOrder, i)
		}
	}

	f := &Frame{
		Times:  append([]time.Time(nil), times...),
		Assets: append([]string(nil), assets...),
	}
	if len(rows) == 0 {
		return f, nil
	}

	data := make([]float64, 0, len(rows)*len(assets))
	for i, row := range rows {
		if len(row) != len(assets) {
			return nil, fmt.Errorf("frame row %d has %d values, expected %d", i, len(row), len(assets))
		}
		data = append(data, row...)
	}
	f.Data = mat.NewDense(len(rows), len(assets), data)
	return f, nil
}

// Rows returns the number of observations.
func (f *Frame) Rows() int {
	if f == nil {
		return 0
	}
	return len(f.Times)
}

// Cols returns the number of asset columns.
func (f *Frame) Cols() int {
	if f == nil {
		return 0
	}
	return len(f.Assets)
}

// Validate checks that the data shape agrees with the labels.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if len(f.Times) == 0 {
		if f.Data != nil {
			return fmt.Errorf("empty frame carries data")
		}
		return nil
	}
	if f.Data == nil {
		return fmt.Errorf("frame has %d timestamps but no data", len(f.Times))
	}
	r, c := f.Data.Dims()
	if r != len(f.Times) || c != len(f.Assets) {
		return fmt.Errorf("frame data is %dx%d, labels are %dx%d", r, c, len(f.Times), len(f.Assets))
	}
	return nil
}

// Tail returns the last n rows. The returned frame shares storage with f.
func (f *Frame) Tail(n int) *Frame {
	rows := f.Rows()
	if f == nil || n >= rows {
		return f
	}
	if n <= 0 {
		return &Frame{Assets: f.Assets}
	}
	start := rows - n
	return &Frame{
		Times:  f.Times[start:],
		Assets: f.Assets,
		Data:   f.Data.Slice(start, rows, 0, len(f.Assets)).(*mat.Dense),
	}
}

// Before returns the rows strictly earlier than t. The returned frame shares storage with f.
func (f *Frame) Before(t time.Time) *Frame {
	if f.Rows() == 0 {
		return f
	}
	end := sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(t) })
	if end == 0 {
		return &Frame{Assets: f.Assets}
	}
	return &Frame{
		Times:  f.Times[:end],
		Assets: f.Assets,
		Data:   f.Data.Slice(0, end, 0, len(f.Assets)).(*mat.Dense),
	}
}

// Row returns a copy of the observations at exactly t.
func (f *Frame) Row(t time.Time) ([]float64, bool) {
	if f.Rows() == 0 {
		return nil, false
	}
	i := sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(t) })
	if i == len(f.Times) || !f.Times[i].Equal(t) {
		return nil, false
	}
	return mat.Row(nil, i, f.Data), true
}

// Column returns a copy of the j-th asset column.
func (f *Frame) Column(j int) []float64 {
	if f.Rows() == 0 {
		return nil
	}
	return mat.Col(nil, j, f.Data)
}

// ColumnIndex returns the column position of asset.
func (f *Frame) ColumnIndex(asset string) (int, bool) {
	for j, a := range f.Assets {
		if a == asset {
			return j, true
		}
	}
	return 0, false
}
