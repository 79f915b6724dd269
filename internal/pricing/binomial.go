package pricing

import "math"

// Binomial is the Cox-Ross-Rubinstein lattice pricer. It handles both
// European and American exercise.
type Binomial struct {
	Steps int
}

// Price implements Pricer.
func (b Binomial) Price(spec OptionSpec) (float64, error) {
	return BinomialPrice(spec, b.Steps)
}

// MinVol is the smallest σ for which the CRR probability stays inside
// [0,1] at this step count: |r−q|·√Δt. The IV solver raises its lower
// bracket above it.
func (b Binomial) MinVol(spec OptionSpec) float64 {
	if b.Steps < 1 || spec.Expiry <= 0 {
		return 0
	}
	return math.Abs(spec.Rate-spec.Dividend) * math.Sqrt(spec.Expiry/float64(b.Steps))
}

// PriceWithTree prices spec and also returns every layer of the lattice.
// Memory is O(steps²); use Price when only the value is needed.
func (b Binomial) PriceWithTree(spec OptionSpec) (PriceResult, error) {
	lat, err := NewLattice(spec, b.Steps)
	if err != nil {
		return PriceResult{}, err
	}
	if spec.Expiry == 0 {
		return PriceResult{Price: spec.Intrinsic()}, nil
	}
	tree := &Tree{
		Spots:     make([][]float64, lat.Steps+1),
		Values:    make([][]float64, lat.Steps+1),
		Exercised: make([][]bool, lat.Steps+1),
	}
	price := lat.induct(tree)
	return PriceResult{Price: price, Tree: tree}, nil
}

// BinomialPrice prices spec on a recombining CRR tree with the given
// number of steps using a single rolling array.
func BinomialPrice(spec OptionSpec, steps int) (float64, error) {
	lat, err := NewLattice(spec, steps)
	if err != nil {
		return 0, err
	}
	if spec.Expiry == 0 {
		return spec.Intrinsic(), nil
	}
	return lat.induct(nil), nil
}

// PriceResult is a price plus optional lattice diagnostics.
type PriceResult struct {
	Price float64 `json:"price"`
	Tree  *Tree   `json:"tree,omitempty"`
}

// Tree holds the lattice layer by layer. Index [j][i] is the node at
// step j after i down moves, so layer j has j+1 nodes.
type Tree struct {
	Spots     [][]float64 `json:"spots"`
	Values    [][]float64 `json:"values"`
	Exercised [][]bool    `json:"exercised"`
}

// Lattice holds the per-step CRR factors derived from a spec and a step
// count.
type Lattice struct {
	Spec     OptionSpec `json:"-"`
	Steps    int        `json:"steps"`
	Dt       float64    `json:"dt"`
	Up       float64    `json:"up"`
	Down     float64    `json:"down"`
	Prob     float64    `json:"prob"`
	Discount float64    `json:"discount"`
}

// MaxSteps bounds the lattice size. Induction is O(steps²) in time.
const MaxSteps = 100000

// NewLattice validates spec and steps and derives the tree factors.
// At T=0 the factors are left zero; callers price intrinsic value.
func NewLattice(spec OptionSpec, steps int) (Lattice, error) {
	if steps < 1 {
		return Lattice{}, invalidf("steps", "lattice needs at least one step, got %d", steps)
	}
	if steps > MaxSteps {
		return Lattice{}, invalidf("steps", "lattice is limited to %d steps, got %d", MaxSteps, steps)
	}
	if err := spec.Validate(); err != nil {
		return Lattice{}, err
	}
	lat := Lattice{Spec: spec, Steps: steps}
	if spec.Expiry == 0 {
		return lat, nil
	}

	lat.Dt = spec.Expiry / float64(steps)
	lat.Up = math.Exp(spec.Vol * math.Sqrt(lat.Dt))
	lat.Down = 1 / lat.Up
	lat.Prob = (math.Exp((spec.Rate-spec.Dividend)*lat.Dt) - lat.Down) / (lat.Up - lat.Down)
	lat.Discount = math.Exp(-spec.Rate * lat.Dt)

	if !(lat.Prob >= 0 && lat.Prob <= 1) {
		return Lattice{}, invalidf("steps",
			"risk-neutral probability %g outside [0,1]; increase steps (|r-q|·√Δt must stay below σ)", lat.Prob)
	}
	return lat, nil
}

// spotAt returns the underlying price at step j after i down moves.
func (l Lattice) spotAt(j, i int) float64 {
	return l.Spec.Spot * math.Pow(l.Up, float64(j-2*i))
}

// induct runs backward induction from the terminal payoffs to the root.
// When tree is non-nil every layer is copied into it.
func (l Lattice) induct(tree *Tree) float64 {
	n := l.Steps
	kind, strike := l.Spec.Kind, l.Spec.Strike
	american := l.Spec.Style == American

	values := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		values[i] = payoff(kind, l.spotAt(n, i), strike)
	}
	if tree != nil {
		l.record(tree, n, values, nil)
	}

	pu, pd := l.Discount*l.Prob, l.Discount*(1-l.Prob)
	var exercised []bool
	for j := n - 1; j >= 0; j-- {
		if tree != nil {
			exercised = make([]bool, j+1)
		}
		for i := 0; i <= j; i++ {
			cont := pu*values[i] + pd*values[i+1]
			if american {
				if ex := payoff(kind, l.spotAt(j, i), strike); ex > cont {
					cont = ex
					if exercised != nil {
						exercised[i] = true
					}
				}
			}
			values[i] = cont
		}
		if tree != nil {
			l.record(tree, j, values[:j+1], exercised)
		}
	}
	return values[0]
}

func (l Lattice) record(tree *Tree, j int, values []float64, exercised []bool) {
	spots := make([]float64, j+1)
	for i := range spots {
		spots[i] = l.spotAt(j, i)
	}
	tree.Spots[j] = spots
	tree.Values[j] = append([]float64(nil), values...)
	if exercised == nil {
		exercised = make([]bool, j+1)
	}
	tree.Exercised[j] = exercised
}
