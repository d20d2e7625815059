package segmentation

import (
	"fmt"
	"math"
	"sort"

	"github.com/segmenta/segmenta/pkg/models"
)

// StandardScaler rescales numeric columns to zero mean and unit variance.
// Statistics are fit per invocation and never persisted; the fixed-model
// pipeline instead uses the scaler shipped inside the model artifact.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column mean and standard deviation. A constant column gets
// scale 1 so transforming it yields zeros instead of NaNs.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("fit scaler: no rows")
	}
	cols := len(rows[0])
	s.Mean = make([]float64, cols)
	s.Scale = make([]float64, cols)

	for _, row := range rows {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return nil
}

// Transform returns z-scored copies of rows.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("transform: row has %d columns, scaler fit on %d", len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// OneHotEncoder encodes a categorical column as indicator vectors. Categories
// are fixed at fit time in lexicographic order; values unseen at fit time
// encode to the all-zero vector rather than erroring.
type OneHotEncoder struct {
	Categories []string
	index      map[string]int
}

func (e *OneHotEncoder) Fit(values []string) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	e.Categories = make([]string, 0, len(seen))
	for v := range seen {
		e.Categories = append(e.Categories, v)
	}
	sort.Strings(e.Categories)

	e.index = make(map[string]int, len(e.Categories))
	for i, c := range e.Categories {
		e.index[c] = i
	}
}

func (e *OneHotEncoder) Transform(values []string) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		vec := make([]float64, len(e.Categories))
		if j, ok := e.index[v]; ok {
			vec[j] = 1
		}
		out[i] = vec
	}
	return out
}

// BuildFeatureMatrix assembles one row per record: standardized numeric
// columns first, then one one-hot block per categorical attribute, in the
// order the attributes were requested.
func BuildFeatureMatrix(records []*models.CustomerRecord, attrs []Attribute) ([][]float64, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	var numeric, categorical []Attribute
	for _, a := range attrs {
		if a.Kind() == KindNumeric {
			numeric = append(numeric, a)
		} else {
			categorical = append(categorical, a)
		}
	}
	if len(numeric) == 0 && len(categorical) == 0 {
		return nil, fmt.Errorf("%w: attribute set is empty", ErrFeatureMapping)
	}

	matrix := make([][]float64, len(records))
	for i := range matrix {
		matrix[i] = []float64{}
	}

	if len(numeric) > 0 {
		raw := make([][]float64, len(records))
		for i, r := range records {
			row := make([]float64, len(numeric))
			for j, a := range numeric {
				row[j] = a.NumericValue(r)
			}
			raw[i] = row
		}

		var scaler StandardScaler
		if err := scaler.Fit(raw); err != nil {
			return nil, err
		}
		scaled, err := scaler.Transform(raw)
		if err != nil {
			return nil, err
		}
		for i := range matrix {
			matrix[i] = append(matrix[i], scaled[i]...)
		}
	}

	for _, a := range categorical {
		values := make([]string, len(records))
		for i, r := range records {
			values[i] = a.CategoricalValue(r)
		}

		var enc OneHotEncoder
		enc.Fit(values)
		encoded := enc.Transform(values)
		for i := range matrix {
			matrix[i] = append(matrix[i], encoded[i]...)
		}
	}

	return matrix, nil
}
