package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
strategy: legacy
temperature: 0.7
top_k: 5
seed: 42
sequence_length: 16
log_level: debug
server_address: 0.0.0.0:9000
`)
	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("loadConfigFile returned error: %v", err)
	}
	if cfg.Strategy != "legacy" || cfg.LogLevel != "debug" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected string fields: %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("temperature not parsed: %v", cfg.Temperature)
	}
	if cfg.TopP != nil {
		t.Fatalf("expected unset top_p to stay nil, got %v", *cfg.TopP)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Fatalf("seed not parsed: %v", cfg.Seed)
	}
}

func TestLoadConfigEnvPath(t *testing.T) {
	path := writeConfig(t, "vocab: 128\n")
	t.Setenv(envTokenloopConfig, path)

	cfg := LoadConfig()
	if cfg.Vocab == nil || *cfg.Vocab != 128 {
		t.Fatalf("expected vocab 128 from %s, got %v", path, cfg.Vocab)
	}
}

func TestLoadConfigInvalidYieldsZero(t *testing.T) {
	t.Setenv(envTokenloopConfig, writeConfig(t, "top_k: [not, an, int]\n"))
	if diff := cmp.Diff(Config{}, LoadConfig()); diff != "" {
		t.Fatalf("expected zero config (-want +got):\n%s", diff)
	}

	t.Setenv(envTokenloopConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	if diff := cmp.Diff(Config{}, LoadConfig()); diff != "" {
		t.Fatalf("expected zero config for missing file (-want +got):\n%s", diff)
	}
}

func TestApplySamplingConfigFlagsWin(t *testing.T) {
	cfg, err := loadConfigFile(writeConfig(t, `
strategy: greedy
top_k: 7
top_p: 0.5
seed: 9
vocab: 100
`))
	if err != nil {
		t.Fatalf("loadConfigFile returned error: %v", err)
	}

	v := samplingVars{strategy: "llama", topK: 50, topP: 1, seed: 0, vocab: 64, hidden: 32}
	applySamplingConfig(setFlags{"top-k": true, "vocab": true}, cfg, &v)

	want := samplingVars{strategy: "greedy", topK: 50, topP: 0.5, seed: 9, vocab: 64, hidden: 32}
	if diff := cmp.Diff(want, v, cmp.AllowUnexported(samplingVars{})); diff != "" {
		t.Fatalf("unexpected vars (-want +got):\n%s", diff)
	}
}

func TestApplyServeConfig(t *testing.T) {
	models := int64(3)
	cfg := Config{ServerAddress: "0.0.0.0:9000", MaxModels: &models}

	addr := "127.0.0.1:8080"
	maxModels := int64(8)
	applyServeConfig(setFlags{}, cfg, &addr, &maxModels)
	if addr != "0.0.0.0:9000" || maxModels != 3 {
		t.Fatalf("expected config values, got %q %d", addr, maxModels)
	}

	addr = "127.0.0.1:1234"
	maxModels = 16
	applyServeConfig(setFlags{"addr": true, "max-models": true}, cfg, &addr, &maxModels)
	if addr != "127.0.0.1:1234" || maxModels != 16 {
		t.Fatalf("expected flags to win, got %q %d", addr, maxModels)
	}
}

func TestDefaultsFrom(t *testing.T) {
	v := samplingVars{seqLen: 10, eos: 3, topK: 4, topP: 0.9, temp: 0.5, seed: 11, vocab: 20, hidden: 8, modelSeed: 2}
	d := defaultsFrom(v)
	if d.SequenceLength != 10 || d.EOSTokenID != 3 || d.TopK != 4 || d.Vocab != 20 || d.Hidden != 8 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.TopP != 0.9 || d.Temperature != 0.5 || d.Seed != 11 || d.ModelSeed != 2 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.MaxSequenceLength == 0 {
		t.Fatalf("expected bounds to keep their defaults")
	}
}
