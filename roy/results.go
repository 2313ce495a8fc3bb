package roy

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lnsongxf/roymodel/statmodel"
	"gopkg.in/yaml.v3"
)

// Results holds the outcome of an estimation run.
type Results struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// Names labels the parameter entries.
	Names []string

	// StartParams and Params hold the parameters at the starting values
	// and at the optimum.
	StartParams *Params
	Params      *Params

	Fit *FitResult

	NumObs    int
	SupportLo float64
	SupportHi float64

	MTE         *MTE
	Average     *Averages
	Conditional *Averages

	Inference *Inference
}

// Estimate fits the model, computes the treatment effects at the optimum
// and their confidence bands.  Non-convergence of the optimizer is not an
// error; inference runs regardless.
func Estimate(m *Model, fc *FitConfig, ic *InferenceConfig) (*Results, error) {

	if fc == nil {
		fc = DefaultFitConfig()
	}
	if ic == nil {
		ic = DefaultInferenceConfig()
	}

	r := &Results{
		RunID:       uuid.NewString(),
		Started:     time.Now(),
		Names:       m.params.Names(All, m.data.Names()),
		StartParams: m.params.Clone(),
		NumObs:      m.NumObs(),
	}
	r.SupportLo, r.SupportHi = m.data.Support()

	fit, err := m.Fit(fc)
	if err != nil {
		return nil, err
	}
	r.Fit = fit
	r.Params = m.params.Clone()

	r.MTE = MarginalEffects(r.Params, m.data)
	lo, hi := UnconditionalRange()
	r.Average = AverageEffects(r.Params, m.data, lo, hi, ic.Sims, avgSimRand(-1))
	lo, hi = ConditionalRange(m.data)
	r.Conditional = AverageEffects(r.Params, m.data, lo, hi, ic.Sims, avgSimRand(-1))

	r.Inference = m.Infer(fit, ic)
	r.Finished = time.Now()

	if ic.Log != nil {
		ic.Log.Printf("Run %s finished in %v", r.RunID, r.Finished.Sub(r.Started))
	}

	return r, nil
}

// ParamRecord is the persisted form of a parameter entry.
type ParamRecord struct {
	Name   string  `yaml:"name"`
	Free   bool    `yaml:"free"`
	Start  float64 `yaml:"start"`
	Value  float64 `yaml:"value"`
	Lower  float64 `yaml:"lower"`
	Upper  float64 `yaml:"upper"`
	PValue float64 `yaml:"pvalue"`
}

// EffectRecord is the persisted form of an average effect.
type EffectRecord struct {
	Name     string  `yaml:"name"`
	Subgroup string  `yaml:"subgroup"`
	Value    float64 `yaml:"value"`
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
	PValue   float64 `yaml:"pvalue"`
}

// CurveRecord is the persisted form of a marginal effect curve.
type CurveRecord struct {
	Name  string    `yaml:"name"`
	Value []float64 `yaml:"value,flow"`
	Lower []float64 `yaml:"lower,flow"`
	Upper []float64 `yaml:"upper,flow"`
}

// Record is the persisted form of Results.
type Record struct {
	RunID        string    `yaml:"run_id"`
	Started      time.Time `yaml:"started"`
	Finished     time.Time `yaml:"finished"`
	NumObs       int       `yaml:"num_obs"`
	Algorithm    string    `yaml:"algorithm"`
	Fun          float64   `yaml:"fun"`
	StartFun     float64   `yaml:"start_fun"`
	Grad         []float64 `yaml:"grad,flow"`
	GradNorm     float64   `yaml:"grad_norm"`
	Success      bool      `yaml:"success"`
	Message      string    `yaml:"message"`
	NumIter      int       `yaml:"num_iter"`
	NumFuncEvals int       `yaml:"num_func_evals"`
	X            []float64 `yaml:"x,flow"`
	Asymptotics  bool      `yaml:"asymptotics"`
	Hessian      string    `yaml:"hessian,omitempty"`
	SupportLo    float64   `yaml:"support_lo"`
	SupportHi    float64   `yaml:"support_hi"`

	Params      []ParamRecord  `yaml:"params"`
	Grid        []float64      `yaml:"grid,flow"`
	MTE         []CurveRecord  `yaml:"mte"`
	Average     []EffectRecord `yaml:"average"`
	Conditional []EffectRecord `yaml:"conditional"`
}

var effectNames = []string{"benefit_post", "benefit_ante", "cost", "surplus"}

// Record converts the results to their persisted form.
func (r *Results) Record() *Record {

	rec := &Record{
		RunID:        r.RunID,
		Started:      r.Started,
		Finished:     r.Finished,
		NumObs:       r.NumObs,
		Algorithm:    r.Fit.Algorithm.String(),
		Fun:          r.Fit.F,
		StartFun:     r.Fit.StartF,
		Grad:         r.Fit.Grad,
		GradNorm:     r.Fit.GradNorm(),
		Success:      r.Fit.Success,
		Message:      r.Fit.Message.String(),
		NumIter:      r.Fit.NumIter,
		NumFuncEvals: r.Fit.NumFuncEvals,
		X:            r.Fit.X,
		Asymptotics:  r.Fit.CovMat != nil,
		SupportLo:    r.SupportLo,
		SupportHi:    r.SupportHi,
		Grid:         r.MTE.U,
	}
	if rec.Asymptotics {
		rec.Hessian = r.Fit.HessianUsed.String()
	}

	start := r.StartParams.Values(Internal, All)
	entries := r.Params.Entries()
	for i, e := range entries {
		b := r.Inference.Params[i]
		rec.Params = append(rec.Params, ParamRecord{
			Name:   r.Names[i],
			Free:   e.Free,
			Start:  start[i],
			Value:  e.Value(),
			Lower:  b.Lower,
			Upper:  b.Upper,
			PValue: b.PValue,
		})
	}

	curves := [][]float64{r.MTE.BenefitPost, r.MTE.BenefitAnte, r.MTE.Cost, r.MTE.Surplus}
	bands := [][]Band{r.Inference.MTE.BenefitPost, r.Inference.MTE.BenefitAnte,
		r.Inference.MTE.Cost, r.Inference.MTE.Surplus}
	for c, name := range effectNames {
		cr := CurveRecord{Name: name, Value: curves[c]}
		for _, b := range bands[c] {
			cr.Lower = append(cr.Lower, b.Lower)
			cr.Upper = append(cr.Upper, b.Upper)
		}
		rec.MTE = append(rec.MTE, cr)
	}

	rec.Average = effectRecords(r.Average, &r.Inference.Average)
	rec.Conditional = effectRecords(r.Conditional, &r.Inference.Conditional)

	return rec
}

var subgroupNames = []string{"average", "treated", "untreated"}

func effectRecords(a *Averages, ab *AverageBands) []EffectRecord {

	vals := flattenAverages(a)
	bands := flattenBands(ab)

	var recs []EffectRecord
	for j := range vals {
		recs = append(recs, EffectRecord{
			Name:     effectNames[j/3],
			Subgroup: subgroupNames[j%3],
			Value:    vals[j],
			Lower:    bands[j].Lower,
			Upper:    bands[j].Upper,
			PValue:   bands[j].PValue,
		})
	}

	return recs
}

func flattenBands(ab *AverageBands) [12]Band {
	var b [12]Band
	for j, s := range []SubgroupBands{ab.BenefitPost, ab.BenefitAnte, ab.Cost, ab.Surplus} {
		b[3*j] = s.Average
		b[3*j+1] = s.Treated
		b[3*j+2] = s.Untreated
	}
	return b
}

// WriteYAML writes the persisted form of the results to w.
func (r *Results) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Record()); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return enc.Close()
}

// ReadRecord reads a record written by WriteYAML.
func ReadRecord(rd io.Reader) (*Record, error) {
	var rec Record
	if err := yaml.NewDecoder(rd).Decode(&rec); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	if _, err := ParseMessage(rec.Message); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return &rec, nil
}

// Summary summarizes an estimation run.
type Summary struct {
	results *Results

	// Every is the spacing of the grid points shown in the marginal
	// effects table.
	Every int
}

// Summary returns a summary of the results.
func (r *Results) Summary() *Summary {
	return &Summary{results: r, Every: 5}
}

// String returns the parameter, average effect and marginal effect
// tables.
func (s *Summary) String() string {

	r := s.results
	fs := statmodel.FmtStrings
	fn := statmodel.FmtFloats

	var buf bytes.Buffer

	tab := &statmodel.SummaryTable{
		Title: "Generalized Roy model estimation",
		Top: []string{
			fmt.Sprintf("Run:            %s", r.RunID[:8]),
			fmt.Sprintf("Num obs:        %d", r.NumObs),
			fmt.Sprintf("Algorithm:      %s", r.Fit.Algorithm),
			fmt.Sprintf("Iterations:     %d", r.Fit.NumIter),
			fmt.Sprintf("Function value: %.6f", r.Fit.F),
			fmt.Sprintf("Gradient norm:  %.6g", r.Fit.GradNorm()),
			fmt.Sprintf("Success:        %t", r.Fit.Success),
			fmt.Sprintf("Support:        [%.2f, %.2f]", r.SupportLo, r.SupportHi),
		},
		Msg: []string{fmt.Sprintf("Message: %s", r.Fit.Message)},
	}
	if r.Fit.CovMat != nil {
		tab.Msg = append(tab.Msg, fmt.Sprintf("Covariance from the %s Hessian", r.Fit.HessianUsed))
	}
	if r.Inference.Degenerate {
		tab.Msg = append(tab.Msg, "Covariance matrix is not positive definite, no confidence bands")
	}

	var est, lcb, ucb, pv []float64
	for i, e := range r.Params.Entries() {
		b := r.Inference.Params[i]
		est = append(est, e.Value())
		lcb = append(lcb, b.Lower)
		ucb = append(ucb, b.Upper)
		pv = append(pv, b.PValue)
	}
	tab.ColNames = []string{"Parameter       ", "Start", "Estimate", "LCB", "UCB", "P-value"}
	tab.ColFmt = []statmodel.Fmter{fs, fn, fn, fn, fn, fn}
	tab.Cols = []interface{}{r.Names, r.StartParams.Values(Internal, All), est, lcb, ucb, pv}
	buf.WriteString(tab.String())
	buf.WriteString("\n")

	for _, x := range []struct {
		title string
		avg   *Averages
		bands *AverageBands
	}{
		{"Average effects", r.Average, &r.Inference.Average},
		{"Average effects on the common support", r.Conditional, &r.Inference.Conditional},
	} {
		recs := effectRecords(x.avg, x.bands)
		var names []string
		var val, lo, hi, p []float64
		for _, rec := range recs {
			names = append(names, fmt.Sprintf("%s (%s)", rec.Name, rec.Subgroup))
			val = append(val, rec.Value)
			lo = append(lo, rec.Lower)
			hi = append(hi, rec.Upper)
			p = append(p, rec.PValue)
		}
		et := &statmodel.SummaryTable{
			Title:    x.title,
			ColNames: []string{"Effect   ", "Estimate", "LCB", "UCB", "P-value"},
			ColFmt:   []statmodel.Fmter{fs, fn, fn, fn, fn},
			Cols:     []interface{}{names, val, lo, hi, p},
		}
		buf.WriteString(et.String())
		buf.WriteString("\n")
	}

	every := s.Every
	if every <= 0 {
		every = 1
	}
	var u, bpost, bante, cost, surp []float64
	for k := every - 1; k < len(r.MTE.U); k += every {
		u = append(u, r.MTE.U[k])
		bpost = append(bpost, r.MTE.BenefitPost[k])
		bante = append(bante, r.MTE.BenefitAnte[k])
		cost = append(cost, r.MTE.Cost[k])
		surp = append(surp, r.MTE.Surplus[k])
	}
	mt := &statmodel.SummaryTable{
		Title:    "Marginal effects at mean covariates",
		ColNames: []string{"u", "Benefit (post)", "Benefit (ante)", "Cost", "Surplus"},
		ColFmt:   []statmodel.Fmter{fn, fn, fn, fn, fn},
		Cols:     []interface{}{u, bpost, bante, cost, surp},
	}
	buf.WriteString(mt.String())

	return buf.String()
}

// Dump writes the parameter values of p with a timestamp, in the layout
// of the start and stop reports.
func Dump(w io.Writer, title string, t time.Time, names []string, p *Params) error {

	if _, err := fmt.Fprintf(w, "%s %s\n\n", title, t.Format(time.RFC3339)); err != nil {
		return err
	}

	entries := p.Entries()
	for i, e := range entries {
		flag := "fixed"
		if e.Free {
			flag = "free"
		}
		if _, err := fmt.Fprintf(w, "%-24s %20.12f  %s\n", names[i], e.Value(), flag); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w)
	return err
}

// Report writes the start parameters, the summary tables and the final
// parameters.
func (r *Results) Report(w io.Writer) error {
	if err := Dump(w, "Start", r.Started, r.Names, r.StartParams); err != nil {
		return err
	}
	if _, err := io.WriteString(w, r.Summary().String()+"\n"); err != nil {
		return err
	}
	return Dump(w, "Stop", r.Finished, r.Names, r.Params)
}
