package fit

import (
	"fmt"

	"gocomp/domain/core"
)

// Parameter name builders. Every monitored scalar gets a stable name so
// posterior series can be fetched without knowing flat-vector positions.

// BetaName names a composition coefficient for (group, design column)
func BetaName(group core.GroupID, column string) string {
	return fmt.Sprintf("beta[%s][%s]", group, column)
}

// GammaName names a variability coefficient for (group, design column)
func GammaName(group core.GroupID, column string) string {
	return fmt.Sprintf("gamma[%s][%s]", group, column)
}

// RandomName names a random-intercept offset for (factor level, group)
func RandomName(level string, group core.GroupID) string {
	return fmt.Sprintf("u[%s][%s]", level, group)
}

// HyperMuName and HyperTauName name the shrinkage hyperparameters per column
func HyperMuName(column string) string  { return fmt.Sprintf("mu[%s]", column) }
func HyperTauName(column string) string { return fmt.Sprintf("tau[%s]", column) }

// Names of the mean-variability association block
const (
	NameAssocA  = "assoc_a"
	NameAssocB  = "assoc_b"
	NameAssocB0 = "assoc_b0"
	NameAssocB1 = "assoc_b1"
	NameSigmaV  = "sigma_v"
	NameSigmaU  = "sigma_u"
)

// Layout maps the structured model parameters onto one flat vector. Built
// once per fit; shared by the sampler, the model, and everything reading
// draws positionally.
type Layout struct {
	Names []string

	// Beta[g][p] indexes composition coefficients, all G groups including
	// the sum-to-zero derived one.
	Beta [][]int
	// Gamma[g][q] indexes variability coefficients.
	Gamma [][]int
	// U[l][g] indexes random-intercept offsets, nil without a random term.
	U [][]int

	// HyperMu[p] and HyperTau[p] index the cross-group shrinkage
	// hyperparameters per composition column.
	HyperMu  []int
	HyperTau []int

	// Association block positions, -1 when the parameter is absent.
	AssocA  int
	AssocB  int
	AssocB0 int
	AssocB1 int
	SigmaV  int
	SigmaU  int
}

// LayoutSpec captures what a layout must cover
type LayoutSpec struct {
	Groups       []core.GroupID
	CompColumns  []string
	VarColumns   []string
	RandomLevels []string
	Bimodal      bool
}

// NewLayout assigns flat positions to every monitored parameter
func NewLayout(spec LayoutSpec) *Layout {
	l := &Layout{
		AssocA: -1, AssocB: -1, AssocB0: -1, AssocB1: -1, SigmaV: -1, SigmaU: -1,
	}
	next := 0
	add := func(name string) int {
		l.Names = append(l.Names, name)
		idx := next
		next++
		return idx
	}

	l.Beta = make([][]int, len(spec.Groups))
	for g, group := range spec.Groups {
		l.Beta[g] = make([]int, len(spec.CompColumns))
		for p, col := range spec.CompColumns {
			l.Beta[g][p] = add(BetaName(group, col))
		}
	}

	l.Gamma = make([][]int, len(spec.Groups))
	for g, group := range spec.Groups {
		l.Gamma[g] = make([]int, len(spec.VarColumns))
		for q, col := range spec.VarColumns {
			l.Gamma[g][q] = add(GammaName(group, col))
		}
	}

	if len(spec.RandomLevels) > 0 {
		l.U = make([][]int, len(spec.RandomLevels))
		for li, level := range spec.RandomLevels {
			l.U[li] = make([]int, len(spec.Groups))
			for g, group := range spec.Groups {
				l.U[li][g] = add(RandomName(level, group))
			}
		}
		l.SigmaU = add(NameSigmaU)
	}

	l.HyperMu = make([]int, len(spec.CompColumns))
	l.HyperTau = make([]int, len(spec.CompColumns))
	for p, col := range spec.CompColumns {
		l.HyperMu[p] = add(HyperMuName(col))
		l.HyperTau[p] = add(HyperTauName(col))
	}

	l.AssocA = add(NameAssocA)
	if spec.Bimodal {
		l.AssocB0 = add(NameAssocB0)
		l.AssocB1 = add(NameAssocB1)
	} else {
		l.AssocB = add(NameAssocB)
	}
	l.SigmaV = add(NameSigmaV)

	return l
}

// Size returns the flat parameter vector width
func (l *Layout) Size() int { return len(l.Names) }

// HasRandom reports whether random-intercept offsets are laid out
func (l *Layout) HasRandom() bool { return l.U != nil }
