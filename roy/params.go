package roy

import (
	"fmt"
	"math"
)

// Kind is the kind of a structural parameter.
type Kind uint8

// Outcome, Cost, SD and Correlation are the kinds of structural parameters.
const (
	Outcome Kind = iota
	Cost
	SD
	Correlation
)

func (k Kind) String() string {
	switch k {
	case Outcome:
		return "outcome"
	case Cost:
		return "cost"
	case SD:
		return "sd"
	case Correlation:
		return "rho"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Group is the subgroup tag of a parameter.  Outcome coefficients belong
// to Treated or Untreated, standard deviations to U1, U0 or V, and
// correlations to U1V or U0V.  Cost coefficients have no group.
type Group uint8

// The subgroup tags.
const (
	NoGroup Group = iota
	Treated
	Untreated
	U1
	U0
	V
	U1V
	U0V
)

func (g Group) String() string {
	switch g {
	case NoGroup:
		return ""
	case Treated:
		return "treated"
	case Untreated:
		return "untreated"
	case U1:
		return "U1"
	case U0:
		return "U0"
	case V:
		return "V"
	case U1V:
		return "U1V"
	case U0V:
		return "U0V"
	default:
		return fmt.Sprintf("Group(%d)", g)
	}
}

// Intercept is the column binding of an intercept coefficient.
const Intercept = -1

// Version selects the internal (bounded) or external (unconstrained)
// form of parameter values.
type Version uint8

// Internal and External are the two parameter forms.
const (
	Internal Version = iota
	External
)

// Scope selects all parameters or only the free ones.
type Scope uint8

// Free and All are the two parameter scopes.
const (
	Free Scope = iota
	All
)

// Entry is a single structural parameter.
type Entry struct {
	Kind   Kind
	Group  Group
	Col    int
	Free   bool
	Bounds Bounds

	// value is on the internal scale.
	value float64
}

// Value returns the internal value of the entry.
func (e *Entry) Value() float64 {
	return e.value
}

// Name returns a display name for the entry, using colnames to label
// column bindings.  If colnames is nil columns are labeled by position.
func (e *Entry) Name(colnames []string) string {
	switch e.Kind {
	case SD, Correlation:
		return fmt.Sprintf("%s: %s", e.Kind, e.Group)
	}

	var col string
	switch {
	case e.Col == Intercept:
		col = "intercept"
	case e.Col < len(colnames):
		col = colnames[e.Col]
	default:
		col = fmt.Sprintf("col%d", e.Col)
	}

	if e.Kind == Cost {
		return "cost: " + col
	}
	return fmt.Sprintf("%s: %s", e.Group, col)
}

// Builder collects parameter entries in insertion order.  Lock produces
// the immutable-layout Params.
type Builder struct {
	entries []Entry
	locked  bool
}

// NewBuilder returns an empty parameter builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an entry.  The value is given on the internal scale; a
// value sitting on a bound is moved into the interior.
func (b *Builder) Add(kind Kind, group Group, col int, value float64, free bool, bounds Bounds) error {

	if b.locked {
		return ErrLocked
	}

	if err := checkGroup(kind, group); err != nil {
		return err
	}

	switch kind {
	case SD:
		if !bounds.HasLower || bounds.Lower < SDBounds.Lower {
			return fmt.Errorf("%w: sd(%s) needs a lower bound of at least %g, got %v",
				ErrInvalidBounds, group, SDBounds.Lower, bounds)
		}
	case Correlation:
		if !bounds.HasLower || !bounds.HasUpper || bounds.Lower <= -1 || bounds.Upper >= 1 {
			return fmt.Errorf("%w: rho(%s) needs bounds strictly inside (-1, 1), got %v",
				ErrInvalidBounds, group, bounds)
		}
	}

	if bounds.HasLower && bounds.HasUpper && bounds.Lower >= bounds.Upper {
		return fmt.Errorf("%w: empty interval %v", ErrInvalidBounds, bounds)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s %s value %v", ErrNumericInvalid, kind, group, value)
	}

	if !bounds.Contains(value) {
		return fmt.Errorf("%w: %s %s value %v outside bounds %v",
			ErrNumericInvalid, kind, group, value, bounds)
	}

	b.entries = append(b.entries, Entry{
		Kind:   kind,
		Group:  group,
		Col:    col,
		Free:   free,
		Bounds: bounds,
		value:  bounds.nudge(value),
	})

	return nil
}

func checkGroup(kind Kind, group Group) error {
	ok := false
	switch kind {
	case Outcome:
		ok = group == Treated || group == Untreated
	case Cost:
		ok = group == NoGroup
	case SD:
		ok = group == U1 || group == U0 || group == V
	case Correlation:
		ok = group == U1V || group == U0V
	}
	if !ok {
		return fmt.Errorf("%w: group %q is not valid for %s parameters", ErrConfigInvalid, group, kind)
	}
	return nil
}

// Lock checks the structural invariants and returns the parameter store.
// The builder can not be used afterwards.
func (b *Builder) Lock() (*Params, error) {

	if b.locked {
		return nil, ErrLocked
	}

	p := &Params{
		entries: b.entries,
		sd:      [3]int{-1, -1, -1},
		rho:     [2]int{-1, -1},
	}

	for i, e := range p.entries {
		if e.Free {
			p.free = append(p.free, i)
		}

		switch e.Kind {
		case Outcome:
			if e.Group == Treated {
				p.treated = append(p.treated, i)
			} else {
				p.untreated = append(p.untreated, i)
			}
		case Cost:
			p.cost = append(p.cost, i)
		case SD:
			k := sdSlot(e.Group)
			if p.sd[k] != -1 {
				return nil, fmt.Errorf("%w: duplicate sd(%s)", ErrConfigInvalid, e.Group)
			}
			p.sd[k] = i
		case Correlation:
			k := rhoSlot(e.Group)
			if p.rho[k] != -1 {
				return nil, fmt.Errorf("%w: duplicate rho(%s)", ErrConfigInvalid, e.Group)
			}
			p.rho[k] = i
		}
	}

	for k, i := range p.sd {
		if i == -1 {
			return nil, fmt.Errorf("%w: missing sd(%s)", ErrConfigInvalid, []Group{U1, U0, V}[k])
		}
	}
	for k, i := range p.rho {
		if i == -1 {
			return nil, fmt.Errorf("%w: missing rho(%s)", ErrConfigInvalid, []Group{U1V, U0V}[k])
		}
	}

	if len(p.treated) == 0 {
		return nil, fmt.Errorf("%w: no outcome coefficients", ErrConfigInvalid)
	}
	if len(p.treated) != len(p.untreated) {
		return nil, fmt.Errorf("%w: %d treated but %d untreated outcome coefficients",
			ErrConfigInvalid, len(p.treated), len(p.untreated))
	}
	for j := range p.treated {
		c1 := p.entries[p.treated[j]].Col
		c0 := p.entries[p.untreated[j]].Col
		if c1 != c0 {
			return nil, fmt.Errorf("%w: outcome coefficient %d is bound to column %d (treated) and %d (untreated)",
				ErrConfigInvalid, j, c1, c0)
		}
	}

	b.locked = true
	b.entries = nil

	return p, nil
}

func sdSlot(g Group) int {
	switch g {
	case U1:
		return 0
	case U0:
		return 1
	default:
		return 2
	}
}

func rhoSlot(g Group) int {
	if g == U1V {
		return 0
	}
	return 1
}

// Params is a locked parameter store.  The set of entries, their order,
// bounds and free flags are fixed; only the values change, through Update
// and ReplaceEntry.  A Params value is not safe for concurrent use.
type Params struct {
	entries []Entry

	// Positions of the free entries, in insertion order
	free []int

	// Positions of the outcome and cost coefficients
	treated   []int
	untreated []int
	cost      []int

	// Positions of sd(U1), sd(U0), sd(V) and of rho(U1V), rho(U0V)
	sd  [3]int
	rho [2]int
}

// NumParams returns the total number of entries.
func (p *Params) NumParams() int {
	return len(p.entries)
}

// NumFree returns the number of free entries.
func (p *Params) NumFree() int {
	return len(p.free)
}

// Entries returns a copy of the entries in insertion order.
func (p *Params) Entries() []Entry {
	e := make([]Entry, len(p.entries))
	copy(e, p.entries)
	return e
}

// Names returns display names for the entries selected by scope.
func (p *Params) Names(scope Scope, colnames []string) []string {
	var names []string
	for _, i := range p.index(scope) {
		names = append(names, p.entries[i].Name(colnames))
	}
	return names
}

func (p *Params) index(scope Scope) []int {
	if scope == Free {
		return p.free
	}
	ix := make([]int, len(p.entries))
	for i := range ix {
		ix[i] = i
	}
	return ix
}

// Values returns the parameter values selected by scope, in the given
// version, in insertion order.
func (p *Params) Values(version Version, scope Scope) []float64 {
	ix := p.index(scope)
	x := make([]float64, len(ix))
	for k, i := range ix {
		e := &p.entries[i]
		if version == External {
			x[k] = e.Bounds.ToExternal(e.value)
		} else {
			x[k] = e.value
		}
	}
	return x
}

// Update writes x into the entries selected by scope.  External values
// are mapped to the internal scale first.  Nothing is written if x has
// the wrong length or contains a non-finite value.
func (p *Params) Update(x []float64, version Version, scope Scope) error {

	ix := p.index(scope)
	if len(x) != len(ix) {
		return fmt.Errorf("%w: update with %d values, expected %d", ErrNumericInvalid, len(x), len(ix))
	}

	for k, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value %v for %s", ErrNumericInvalid, v, p.entries[ix[k]].Name(nil))
		}
	}

	for k, i := range ix {
		e := &p.entries[i]
		if version == External {
			e.value = e.Bounds.ToInternal(x[k])
		} else {
			e.value = e.Bounds.nudge(x[k])
		}
	}

	return nil
}

// ReplaceEntry sets the internal value of entry i.
func (p *Params) ReplaceEntry(i int, value float64) error {

	if i < 0 || i >= len(p.entries) {
		return fmt.Errorf("%w: no entry %d", ErrConfigInvalid, i)
	}

	e := &p.entries[i]
	if math.IsNaN(value) || math.IsInf(value, 0) || !e.Bounds.Contains(value) {
		return fmt.Errorf("%w: value %v for %s with bounds %v",
			ErrNumericInvalid, value, e.Name(nil), e.Bounds)
	}
	e.value = e.Bounds.nudge(value)

	return nil
}

// Clone returns a deep copy of the store.
func (p *Params) Clone() *Params {
	q := *p
	q.entries = make([]Entry, len(p.entries))
	copy(q.entries, p.entries)
	return &q
}

// WithValues returns a copy of the store holding the values x.
func (p *Params) WithValues(x []float64, version Version, scope Scope) (*Params, error) {
	q := p.Clone()
	if err := q.Update(x, version, scope); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *Params) gather(ix []int) []float64 {
	x := make([]float64, len(ix))
	for k, i := range ix {
		x[k] = p.entries[i].value
	}
	return x
}

func (p *Params) cols(ix []int) []int {
	c := make([]int, len(ix))
	for k, i := range ix {
		c[k] = p.entries[i].Col
	}
	return c
}

// Outcome returns the outcome coefficients of the Treated or Untreated
// group, in insertion order.
func (p *Params) Outcome(g Group) []float64 {
	switch g {
	case Treated:
		return p.gather(p.treated)
	case Untreated:
		return p.gather(p.untreated)
	default:
		panic(fmt.Sprintf("Outcome: invalid group %s\n", g))
	}
}

// OutcomeCols returns the column bindings of the outcome coefficients.
func (p *Params) OutcomeCols() []int {
	return p.cols(p.treated)
}

// CostCoeffs returns the cost coefficients in insertion order.
func (p *Params) CostCoeffs() []float64 {
	return p.gather(p.cost)
}

// CostCols returns the column bindings of the cost coefficients.
func (p *Params) CostCols() []int {
	return p.cols(p.cost)
}

// SD returns the standard deviation of U1, U0 or V.
func (p *Params) SD(g Group) float64 {
	switch g {
	case U1, U0, V:
		return p.entries[p.sd[sdSlot(g)]].value
	default:
		panic(fmt.Sprintf("SD: invalid group %s\n", g))
	}
}

// Rho returns the correlation of U1 or U0 with V.
func (p *Params) Rho(g Group) float64 {
	switch g {
	case U1V, U0V:
		return p.entries[p.rho[rhoSlot(g)]].value
	default:
		panic(fmt.Sprintf("Rho: invalid group %s\n", g))
	}
}

// Variance returns the squared standard deviation of U1, U0 or V.
func (p *Params) Variance(g Group) float64 {
	s := p.SD(g)
	return s * s
}

// Covariance returns cov(U1, V) or cov(U0, V), given U1 or U0.
func (p *Params) Covariance(g Group) float64 {
	switch g {
	case U1:
		return p.Rho(U1V) * p.SD(U1) * p.SD(V)
	case U0:
		return p.Rho(U0V) * p.SD(U0) * p.SD(V)
	default:
		panic(fmt.Sprintf("Covariance: invalid group %s\n", g))
	}
}

// ExPostBenefit returns the difference between the treated and untreated
// outcome coefficients.
func (p *Params) ExPostBenefit() []float64 {
	b := p.Outcome(Treated)
	for j, v := range p.Outcome(Untreated) {
		b[j] -= v
	}
	return b
}

// IsFree reports whether the entry selected by kind and group is free.
// It applies to the sd and correlation entries.
func (p *Params) IsFree(kind Kind, g Group) bool {
	switch kind {
	case SD:
		return p.entries[p.sd[sdSlot(g)]].Free
	case Correlation:
		return p.entries[p.rho[rhoSlot(g)]].Free
	default:
		panic(fmt.Sprintf("IsFree: only sd and correlation entries, got %s\n", kind))
	}
}
