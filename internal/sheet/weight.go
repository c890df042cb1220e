package sheet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingWeight is returned for a blank weight cell.
	ErrMissingWeight = errors.New("missing weight")
	// ErrInvalidWeight is returned for a weight that is not a positive integer
	// within the accepted range.
	ErrInvalidWeight = errors.New("invalid weight")
)

// WeightPolicy decides what happens to a row whose weight cannot be used.
type WeightPolicy string

const (
	// PolicySkip drops the row.
	PolicySkip WeightPolicy = "skip"
	// PolicyDefault keeps the row with the default weight.
	PolicyDefault WeightPolicy = "default"
)

// ParseWeight normalizes a raw weight cell into a positive integer.
// Percent signs and comma separators are stripped ("10%" is 10, "1,000" is
// 1000) and integral decimals such as "3.0" are accepted. When maxWeight is
// positive, larger values are rejected.
func ParseWeight(raw string, maxWeight int) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrMissingWeight
	}
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidWeight, raw)
		}
		n = int(f)
	}

	if n < 1 {
		return 0, fmt.Errorf("%w: %d is below 1", ErrInvalidWeight, n)
	}
	if maxWeight > 0 && n > maxWeight {
		return 0, fmt.Errorf("%w: %d is above the maximum of %d", ErrInvalidWeight, n, maxWeight)
	}
	return n, nil
}
