package tensor

import (
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// wideRows is set when the host has wide vector units; the unrolled kernel
// keeps more independent accumulators in flight there.
var wideRows = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// Features lists the CPU features MatVec dispatches on.
func Features() []string {
	var out []string
	if cpu.X86.HasAVX2 {
		out = append(out, "avx2")
	}
	if cpu.X86.HasFMA {
		out = append(out, "fma")
	}
	if cpu.ARM64.HasASIMD {
		out = append(out, "asimd")
	}
	return out
}

// parallelRows is the matrix height below which MatVec stays on the
// calling goroutine.
const parallelRows = 256

// MatVec computes dst = w * x where w is a matrix and x is a vector. Tall
// matrices are split into row ranges across GOMAXPROCS goroutines.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}

	workers := min(runtime.GOMAXPROCS(0), w.R)
	if workers <= 1 || w.R < parallelRows {
		matVecRange(dst, w, x, 0, w.R)
		return
	}

	var wg sync.WaitGroup
	chunk := (w.R + workers - 1) / workers
	for i := range workers {
		rs := i * chunk
		re := min(rs+chunk, w.R)
		if rs >= re {
			break
		}
		wg.Go(func() {
			matVecRange(dst, w, x, rs, re)
		})
	}
	wg.Wait()
}

func matVecRange(dst []float32, w *Mat, x []float32, rs, re int) {
	if wideRows {
		matVecRangeUnrolled(dst, w, x, rs, re)
		return
	}
	matVecRangeScalar(dst, w, x, rs, re)
}

func matVecRangeScalar(dst []float32, w *Mat, x []float32, rs, re int) {
	for i := rs; i < re; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		j := 0
		for ; j+3 < w.C; j += 4 {
			sum += row[j]*x[j] + row[j+1]*x[j+1] + row[j+2]*x[j+2] + row[j+3]*x[j+3]
		}
		for ; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}

// matVecRangeUnrolled uses four independent accumulators of two lanes each.
func matVecRangeUnrolled(dst []float32, w *Mat, x []float32, rs, re int) {
	c := w.C
	for i := rs; i < re; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+c]
		if c > 0 {
			_ = row[c-1]
		}
		var a0, a1, a2, a3 float32
		j := 0
		for ; j+8 <= c; j += 8 {
			a0 += row[j]*x[j] + row[j+4]*x[j+4]
			a1 += row[j+1]*x[j+1] + row[j+5]*x[j+5]
			a2 += row[j+2]*x[j+2] + row[j+6]*x[j+6]
			a3 += row[j+3]*x[j+3] + row[j+7]*x[j+7]
		}
		sum := (a0 + a1) + (a2 + a3)
		for ; j < c; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}
