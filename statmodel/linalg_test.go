package statmodel

import (
	"bytes"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestPinvFullRank(t *testing.T) {

	a := mat.NewDense(4, 2, []float64{
		1, 2,
		1, -1,
		1, 0,
		1, 3,
	})

	p, err := Pinv(a)
	if err != nil {
		t.Fatal(err)
	}

	// For full column rank, pinv(A) = (A'A)^-1 A'.
	var ata, atai, want mat.Dense
	ata.Mul(a.T(), a)
	if err := atai.Inverse(&ata); err != nil {
		t.Fatal(err)
	}
	want.Mul(&atai, a.T())

	if !mat.EqualApprox(p, &want, 1e-10) {
		t.Errorf("pinv mismatch:\n%v\n%v", mat.Formatted(p), mat.Formatted(&want))
	}
}

func TestPinvRankDeficient(t *testing.T) {

	// The second column duplicates the first.
	a := mat.NewDense(3, 3, []float64{
		1, 1, 2,
		2, 2, 0,
		3, 3, 1,
	})

	p, err := Pinv(a)
	if err != nil {
		t.Fatal(err)
	}

	// Moore-Penrose conditions A P A = A and P A P = P.
	var apa, pap, tmp mat.Dense
	tmp.Mul(a, p)
	apa.Mul(&tmp, a)
	if !mat.EqualApprox(&apa, a, 1e-10) {
		t.Errorf("A P A != A")
	}
	tmp.Mul(p, a)
	pap.Mul(&tmp, p)
	if !mat.EqualApprox(&pap, p, 1e-10) {
		t.Errorf("P A P != P")
	}
}

func TestColMeans(t *testing.T) {

	a := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 5,
		6, 0,
	})

	if !floats.EqualApprox(ColMeans(a), []float64{3, 3}, 1e-14) {
		t.Fail()
	}
}

func TestCSVRoundTrip(t *testing.T) {

	src := "y,d,x1\n1.5,1,0.25\n-2,0,1e-3\n"
	ds, err := ReadCSV(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}

	if ds.NumObs() != 2 || len(ds.Names()) != 3 {
		t.Fatalf("unexpected shape %d x %d", ds.NumObs(), len(ds.Names()))
	}
	if Position(ds, "x1") != 2 || Position(ds, "z") != -1 {
		t.Fail()
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds); err != nil {
		t.Fatal(err)
	}

	ds2, err := ReadCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for j := range ds.Data() {
		if !floats.Equal(ds.Data()[j], ds2.Data()[j]) {
			t.Errorf("column %d differs after round trip", j)
		}
	}
}

func TestCSVErrors(t *testing.T) {

	for _, src := range []string{
		"",
		"a,b\n",
		"a,b\n1,x\n",
	} {
		if _, err := ReadCSV(strings.NewReader(src)); err == nil {
			t.Errorf("expected an error for %q", src)
		}
	}
}

func TestSubset(t *testing.T) {

	ds := NewDataset([][]Dtype{{1, 2, 3, 4}, {0, 1, 0, 1}}, []string{"y", "d"})
	sub := Subset(ds, func(i int) bool { return ds.Data()[1][i] == 1 })

	if !floats.Equal(sub.Data()[0], []float64{2, 4}) {
		t.Fail()
	}
}
