// Package graph records define-by-run forward passes over row-major 2-D
// tensors on top of anydiff. Every recorded op is an anydiff expression over
// its parents' values; Backward pools upstream gradients per node and
// propagates each op once, then accumulates into the Variables the pass read.
package graph

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

var creator anyvec.Creator = anyvec64.DefaultCreator{}

// NewVector copies data into a float64 anyvec vector.
func NewVector(data []float64) anyvec.Vector {
	return creator.MakeVectorData(creator.MakeNumericList(append([]float64(nil), data...)))
}

// Floats returns the elements of a float64 vector.
func Floats(v anyvec.Vector) []float64 {
	return v.Data().([]float64)
}

// Tensor is a dense row-major matrix. Vectors are 1xN or Nx1 tensors and
// scalars are 1x1.
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// NewTensor allocates a zero tensor.
func NewTensor(rows, cols int) Tensor {
	return Tensor{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Full allocates a tensor with every element set to v.
func Full(rows, cols int, v float64) Tensor {
	t := NewTensor(rows, cols)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Column builds an Nx1 tensor from a slice. The slice is copied.
func Column(values []float64) Tensor {
	t := NewTensor(len(values), 1)
	copy(t.Data, values)
	return t
}

// FromRows builds a tensor from equal-length rows.
func FromRows(rows [][]float64) (Tensor, error) {
	if len(rows) == 0 {
		return Tensor{}, fmt.Errorf("graph: no rows")
	}
	cols := len(rows[0])
	t := NewTensor(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return Tensor{}, fmt.Errorf("graph: row %d has %d columns, want %d", i, len(r), cols)
		}
		copy(t.Data[i*cols:], r)
	}
	return t, nil
}

func (t Tensor) At(i, j int) float64     { return t.Data[i*t.Cols+j] }
func (t Tensor) Set(i, j int, v float64) { t.Data[i*t.Cols+j] = v }
func (t Tensor) Len() int                { return len(t.Data) }

// Row returns a view of row i.
func (t Tensor) Row(i int) []float64 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Clone deep-copies the tensor.
func (t Tensor) Clone() Tensor {
	c := NewTensor(t.Rows, t.Cols)
	copy(c.Data, t.Data)
	return c
}

// SameShape reports whether u has the same dimensions as t.
func (t Tensor) SameShape(u Tensor) bool {
	return t.Rows == u.Rows && t.Cols == u.Cols
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(%dx%d)", t.Rows, t.Cols)
}

// Variable is persistent trainable state. Its Grad buffer is filled by
// Tape.Backward and consumed by an optimizer.
type Variable struct {
	Name  string
	Value Tensor
	Grad  []float64

	param *anydiff.Var
}

// NewVariable creates a trainable variable holding a copy of value.
func NewVariable(name string, value Tensor) *Variable {
	return &Variable{
		Name:  name,
		Value: value.Clone(),
		Grad:  make([]float64, value.Len()),
		param: anydiff.NewVar(NewVector(value.Data)),
	}
}

// ZeroGrad clears the accumulated gradient.
func (v *Variable) ZeroGrad() {
	for i := range v.Grad {
		v.Grad[i] = 0
	}
}

// Param returns the long-lived anydiff handle of v with its vector set to
// the current Value. Optimizer state is keyed on it. Not safe for use
// concurrently with reads of v on a Tape.
func (v *Variable) Param() *anydiff.Var {
	v.param.Vector.SetData(creator.MakeNumericList(append([]float64(nil), v.Value.Data...)))
	return v.param
}

// GradVector returns a copy of Grad as a vector.
func (v *Variable) GradVector() anyvec.Vector {
	return NewVector(v.Grad)
}

// Commit copies the handle's vector back into Value after an update.
func (v *Variable) Commit() {
	copy(v.Value.Data, Floats(v.param.Vector))
}
