package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/tokenloop/internal/tensor"
)

type output struct {
	GoVersion string          `json:"go_version"`
	GoOS      string          `json:"go_os"`
	GoArch    string          `json:"go_arch"`
	CPUs      int             `json:"cpus"`
	Features  map[string]bool `json:"features"`
	MatVec    []string        `json:"matvec"`
}

func main() {
	features := map[string]bool{
		"AVX":      cpu.X86.HasAVX,
		"AVX2":     cpu.X86.HasAVX2,
		"FMA":      cpu.X86.HasFMA,
		"AVX512F":  cpu.X86.HasAVX512F,
		"AVX512BW": cpu.X86.HasAVX512BW,
		"SSE41":    cpu.X86.HasSSE41,
		"ASIMD":    cpu.ARM64.HasASIMD,
		"SVE":      cpu.ARM64.HasSVE,
	}

	out := output{
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		Features:  features,
		MatVec:    tensor.Features(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
