package statmodel

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Dataset is a collection of equal-length named columns.
type Dataset interface {

	// Data returns the columns, Data()[j] is the j^th variable.
	Data() [][]Dtype

	// Names returns the variable names, in the same order as Data.
	Names() []string

	// NumObs returns the number of observations (rows).
	NumObs() int
}

type basicData struct {
	data     [][]Dtype
	varnames []string
}

func (bd *basicData) Data() [][]Dtype {
	return bd.data
}

func (bd *basicData) Names() []string {
	return bd.varnames
}

func (bd *basicData) NumObs() int {
	if len(bd.data) == 0 {
		return 0
	}
	return len(bd.data[0])
}

// NewDataset returns a Dataset holding the given columns.  It panics if
// the number of names does not match the number of columns, or if the
// columns have unequal lengths.
func NewDataset(data [][]Dtype, varnames []string) Dataset {

	if len(data) != len(varnames) {
		msg := fmt.Sprintf("NewDataset: %d columns but %d names\n", len(data), len(varnames))
		panic(msg)
	}

	for j := range data {
		if len(data[j]) != len(data[0]) {
			msg := fmt.Sprintf("NewDataset: column '%s' has length %d, expected %d\n",
				varnames[j], len(data[j]), len(data[0]))
			panic(msg)
		}
	}

	return &basicData{
		data:     data,
		varnames: varnames,
	}
}

// Position returns the column index of the named variable, or -1.
func Position(ds Dataset, name string) int {
	for j, na := range ds.Names() {
		if na == name {
			return j
		}
	}
	return -1
}

// Subset returns a Dataset containing the rows of ds for which keep
// returns true.  The columns are copied.
func Subset(ds Dataset, keep func(i int) bool) Dataset {

	n := ds.NumObs()
	var ix []int
	for i := 0; i < n; i++ {
		if keep(i) {
			ix = append(ix, i)
		}
	}

	data := make([][]Dtype, len(ds.Data()))
	for j, col := range ds.Data() {
		x := make([]Dtype, len(ix))
		for k, i := range ix {
			x[k] = col[i]
		}
		data[j] = x
	}

	names := make([]string, len(ds.Names()))
	copy(names, ds.Names())

	return NewDataset(data, names)
}

// ReadCSV reads a dataset from CSV text.  The first row contains the
// variable names, all remaining rows must be numeric.
func ReadCSV(r io.Reader) (Dataset, error) {

	rdr := csv.NewReader(r)
	rdr.TrimLeadingSpace = true

	header, err := rdr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header")
	}

	data := make([][]Dtype, len(header))
	row := 0
	for {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err)
		}

		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d",
				row+2, len(header), len(record))
		}

		for j, s := range record {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w",
					row+2, j+1, s, err)
			}
			data[j] = append(data[j], v)
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	return NewDataset(data, header), nil
}

// WriteCSV writes the dataset as CSV text with a header row.
func WriteCSV(w io.Writer, ds Dataset) error {

	wtr := csv.NewWriter(w)
	if err := wtr.Write(ds.Names()); err != nil {
		return err
	}

	cols := ds.Data()
	rec := make([]string, len(cols))
	for i := 0; i < ds.NumObs(); i++ {
		for j := range cols {
			rec[j] = strconv.FormatFloat(cols[j][i], 'g', -1, 64)
		}
		if err := wtr.Write(rec); err != nil {
			return err
		}
	}

	wtr.Flush()
	return wtr.Error()
}
