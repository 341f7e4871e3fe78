package posterior

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// ChainDraws accumulates one chain's retained draws. Each draw is a flat
// parameter vector aligned with Names. Chains never share these; they are
// merged only after every chain has finished.
type ChainDraws struct {
	Names  []string
	Values [][]float64
}

// NewChainDraws allocates storage for a chain
func NewChainDraws(names []string, capacity int) *ChainDraws {
	return &ChainDraws{
		Names:  names,
		Values: make([][]float64, 0, capacity),
	}
}

// Append retains a copy of one draw
func (c *ChainDraws) Append(vec []float64) {
	cp := make([]float64, len(vec))
	copy(cp, vec)
	c.Values = append(c.Values, cp)
}

// Len returns the number of retained draws
func (c *ChainDraws) Len() int { return len(c.Values) }

// Series extracts one parameter's trace
func (c *ChainDraws) Series(param int) []float64 {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		out[i] = v[param]
	}
	return out
}

// Draws is the merged posterior sample over all chains. Immutable once built.
type Draws struct {
	Names  []string
	Values [][]float64
	// ChainOf records the source chain of each draw, for audit.
	ChainOf []int

	index map[string]int
}

// Merge combines finished chains into one posterior sample. All chains must
// share the same parameter layout.
func Merge(chains []*ChainDraws) (*Draws, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("no chains to merge")
	}
	names := chains[0].Names
	for i, c := range chains[1:] {
		if len(c.Names) != len(names) {
			return nil, fmt.Errorf("chain %d has %d parameters, expected %d", i+1, len(c.Names), len(names))
		}
		for j := range names {
			if c.Names[j] != names[j] {
				return nil, fmt.Errorf("chain %d parameter %d is %q, expected %q", i+1, j, c.Names[j], names[j])
			}
		}
	}

	d := &Draws{Names: names, index: make(map[string]int, len(names))}
	for j, n := range names {
		d.index[n] = j
	}
	for ci, c := range chains {
		for _, v := range c.Values {
			d.Values = append(d.Values, v)
			d.ChainOf = append(d.ChainOf, ci)
		}
	}
	return d, nil
}

// Restore rebuilds a merged posterior from stored parts
func Restore(names []string, values [][]float64, chainOf []int) (*Draws, error) {
	if len(values) != len(chainOf) {
		return nil, fmt.Errorf("draw count %d does not match chain index length %d", len(values), len(chainOf))
	}
	for k, v := range values {
		if len(v) != len(names) {
			return nil, fmt.Errorf("draw %d has %d values, expected %d", k, len(v), len(names))
		}
	}
	d := &Draws{Names: names, Values: values, ChainOf: chainOf, index: make(map[string]int, len(names))}
	for j, n := range names {
		d.index[n] = j
	}
	return d, nil
}

// Len returns the total number of merged draws
func (d *Draws) Len() int { return len(d.Values) }

// ParamCount returns the parameter vector width
func (d *Draws) ParamCount() int { return len(d.Names) }

// Index returns a parameter's position by name
func (d *Draws) Index(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// Series extracts one parameter's merged trace by name
func (d *Draws) Series(name string) ([]float64, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(d.Values))
	for k, v := range d.Values {
		out[k] = v[i]
	}
	return out, true
}

// At returns draw k's value for parameter index i
func (d *Draws) At(k, i int) float64 { return d.Values[k][i] }

// Summary describes one scalar posterior series
type Summary struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Level  float64 `json:"level"`
}

// Summarize computes the posterior median, mean, spread, and the equal-tailed
// credible interval at the given level
func Summarize(series []float64, level float64) (Summary, error) {
	if len(series) == 0 {
		return Summary{}, fmt.Errorf("empty posterior series")
	}
	if level <= 0 || level >= 1 {
		return Summary{}, fmt.Errorf("credible level %g outside (0, 1)", level)
	}

	median, err := stats.Median(series)
	if err != nil {
		return Summary{}, err
	}
	mean, err := stats.Mean(series)
	if err != nil {
		return Summary{}, err
	}
	sd, err := stats.StandardDeviation(series)
	if err != nil {
		return Summary{}, err
	}
	tail := (1 - level) / 2 * 100
	lower, err := stats.Percentile(series, tail)
	if err != nil {
		return Summary{}, err
	}
	upper, err := stats.Percentile(series, 100-tail)
	if err != nil {
		return Summary{}, err
	}

	return Summary{Median: median, Mean: mean, SD: sd, Lower: lower, Upper: upper, Level: level}, nil
}

// ExceedanceProbability estimates P(|x| > threshold) from posterior draws
func ExceedanceProbability(series []float64, threshold float64) float64 {
	if len(series) == 0 {
		return 0
	}
	n := 0
	for _, x := range series {
		if math.Abs(x) > threshold {
			n++
		}
	}
	return float64(n) / float64(len(series))
}
