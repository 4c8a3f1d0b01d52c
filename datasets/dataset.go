// Package datasets materializes flat feature dictionaries into named dense
// tensors and provides batched readers for the raw dataset files.
package datasets

import (
	"fmt"
	"sort"

	"gorgonia.org/tensor"
)

// FeatureVector is one flat feature row. Values must be int, []int or
// [][]int; every row of a dataset must share the same keys and shapes.
type FeatureVector = map[string]any

// Dataset is a fixed set of named integer tensors whose first dimension is
// the number of feature rows.
type Dataset struct {
	tensors map[string]*tensor.Dense
	names   []string
	rows    int
}

func (d *Dataset) Len() int {
	return d.rows
}

func (d *Dataset) TensorNames() []string {
	return d.names
}

func (d *Dataset) Tensor(name string) *tensor.Dense {
	return d.tensors[name]
}

// ConvertFeaturesToDataset flattens feature rows into one tensor per feature
// name and returns the enumerated tensor names. Rows with inconsistent keys
// or ragged value shapes are an error.
func ConvertFeaturesToDataset(features []FeatureVector) (*Dataset, []string, error) {
	if len(features) == 0 {
		return &Dataset{tensors: map[string]*tensor.Dense{}}, nil, nil
	}

	names := make([]string, 0, len(features[0]))
	for name := range features[0] {
		names = append(names, name)
	}
	sort.Strings(names)

	tensors := make(map[string]*tensor.Dense, len(names))
	for _, name := range names {
		t, err := columnTensor(features, name)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = t
	}
	return &Dataset{tensors: tensors, names: names, rows: len(features)}, names, nil
}

func columnTensor(features []FeatureVector, name string) (*tensor.Dense, error) {
	n := len(features)
	switch features[0][name].(type) {
	case int:
		backing := make([]int, n)
		for i, row := range features {
			v, ok := row[name].(int)
			if !ok {
				return nil, fmt.Errorf("row %d is not a scalar", i)
			}
			backing[i] = v
		}
		return tensor.New(tensor.WithShape(n), tensor.WithBacking(backing)), nil
	case []int:
		width := len(features[0][name].([]int))
		backing := make([]int, 0, n*width)
		for i, row := range features {
			v, ok := row[name].([]int)
			if !ok || len(v) != width {
				return nil, fmt.Errorf("row %d does not have width %d", i, width)
			}
			backing = append(backing, v...)
		}
		return tensor.New(tensor.WithShape(n, width), tensor.WithBacking(backing)), nil
	case [][]int:
		first := features[0][name].([][]int)
		d1 := len(first)
		d2 := 0
		if d1 > 0 {
			d2 = len(first[0])
		}
		backing := make([]int, 0, n*d1*d2)
		for i, row := range features {
			v, ok := row[name].([][]int)
			if !ok || len(v) != d1 {
				return nil, fmt.Errorf("row %d does not have %d rows", i, d1)
			}
			for _, inner := range v {
				if len(inner) != d2 {
					return nil, fmt.Errorf("row %d has a ragged inner dimension", i)
				}
				backing = append(backing, inner...)
			}
		}
		return tensor.New(tensor.WithShape(n, d1, d2), tensor.WithBacking(backing)), nil
	default:
		return nil, fmt.Errorf("unsupported feature value type %T", features[0][name])
	}
}
