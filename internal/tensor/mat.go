package tensor

import (
	"math/rand/v2"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively.  Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C).  Data holds the flattened matrix values.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed matrix with the given number of rows and columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// Row returns a view of the i‑th row. Writes go to the matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Float64Row copies the i-th row into dst widened to float64. dst is
// allocated when nil.
func (m *Mat) Float64Row(dst []float64, i int) []float64 {
	row := m.Row(i)
	if dst == nil {
		dst = make([]float64, m.C)
	}
	for j, v := range row {
		dst[j] = float64(v)
	}
	return dst
}

// FillRand fills the matrix with reproducible pseudo‑random values in
// roughly (-scale/2, scale/2). The same seed always yields the same matrix.
func FillRand(m *Mat, seed uint64, scale float32) {
	rng := rand.New(rand.NewPCG(seed, seed^0x5851F42D4C957F2D))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}
