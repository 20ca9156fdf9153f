package estimator

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ParameterState is the serialized form of one live parameter.
type ParameterState struct {
	Name   string    `msgpack:"name"`
	Kind   string    `msgpack:"kind"`
	Rows   int       `msgpack:"rows"`
	Cols   int       `msgpack:"cols"`
	Ready  bool      `msgpack:"ready"`
	Values []float64 `msgpack:"values"`
}

// Snapshot captures live parameter values at one point in a backtest.
type Snapshot struct {
	Parameters []ParameterState `msgpack:"parameters"`
}

// TakeSnapshot copies the current values of params.
func TakeSnapshot(params ...*Parameter) Snapshot {
	s := Snapshot{Parameters: make([]ParameterState, 0, len(params))}
	for _, p := range params {
		shape := p.Shape()
		s.Parameters = append(s.Parameters, ParameterState{
			Name:   p.Name(),
			Kind:   shape.Kind.String(),
			Rows:   shape.Rows,
			Cols:   shape.Cols,
			Ready:  p.Ready(),
			Values: p.Values(),
		})
	}
	return s
}

// Marshal encodes the snapshot with msgpack. Floats are stored as raw float64, so two
// snapshots with bit-identical values encode to identical bytes.
func (s Snapshot) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
