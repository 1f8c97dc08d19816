package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envTokenloopConfig = "TOKENLOOP_CONFIG"

// Config represents the tokenloop configuration file
// (~/.config/tokenloop/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// Sampling defaults
	Strategy       string   `yaml:"strategy"`
	Temperature    *float64 `yaml:"temperature"`
	TopK           *int64   `yaml:"top_k"`
	TopP           *float64 `yaml:"top_p"`
	Seed           *uint64  `yaml:"seed"`
	SequenceLength *int64   `yaml:"sequence_length"`
	EOSTokenID     *int64   `yaml:"eos_token_id"`

	// Toy model shape
	Vocab     *int64  `yaml:"vocab"`
	Hidden    *int64  `yaml:"hidden"`
	ModelSeed *uint64 `yaml:"model_seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxModels     *int64 `yaml:"max_models"`
}

func configPath() string {
	if p := os.Getenv(envTokenloopConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tokenloop", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// samplingVars are the flag destinations shared by run and serve.
type samplingVars struct {
	strategy  string
	seqLen    int64
	eos       int64
	topK      int64
	topP      float64
	temp      float64
	seed      uint64
	vocab     int64
	hidden    int64
	modelSeed uint64
}

func samplingFlags(v *samplingVars) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "strategy",
			Aliases:     []string{"s"},
			Usage:       "sampling strategy (llama, legacy, greedy, tokens)",
			Value:       "llama",
			Destination: &v.strategy,
		},
		&cli.Int64Flag{
			Name:        "seq-len",
			Aliases:     []string{"n", "sequence-length"},
			Usage:       "total sequence length including the prompt",
			Value:       32,
			Destination: &v.seqLen,
		},
		&cli.Int64Flag{
			Name:        "eos",
			Usage:       "end-of-sequence token id",
			Value:       2,
			Destination: &v.eos,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"topk"},
			Usage:       "top-k filtering (0 disables it for the llama strategy)",
			Value:       50,
			Destination: &v.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"topp"},
			Usage:       "top-p (nucleus) filtering",
			Value:       1.0,
			Destination: &v.topP,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature",
			Value:       1.0,
			Destination: &v.temp,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "sampler seed",
			Destination: &v.seed,
		},
		&cli.Int64Flag{
			Name:        "vocab",
			Usage:       "toy model vocabulary size",
			Value:       64,
			Destination: &v.vocab,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "toy model hidden size",
			Value:       32,
			Destination: &v.hidden,
		},
		&cli.Uint64Flag{
			Name:        "model-seed",
			Usage:       "toy model weight seed",
			Value:       1,
			Destination: &v.modelSeed,
		},
	}
}

// flagSetter is the part of *cli.Command applySamplingConfig needs.
type flagSetter interface {
	IsSet(name string) bool
}

// applySamplingConfig applies config file defaults to sampling variables
// when the corresponding CLI flag was not explicitly set.
func applySamplingConfig(c flagSetter, cfg Config, v *samplingVars) {
	if cfg.Strategy != "" && !c.IsSet("strategy") {
		v.strategy = cfg.Strategy
	}
	if cfg.SequenceLength != nil && !c.IsSet("seq-len") {
		v.seqLen = *cfg.SequenceLength
	}
	if cfg.EOSTokenID != nil && !c.IsSet("eos") {
		v.eos = *cfg.EOSTokenID
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		v.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		v.topP = *cfg.TopP
	}
	if cfg.Temperature != nil && !c.IsSet("temp") {
		v.temp = *cfg.Temperature
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		v.seed = *cfg.Seed
	}
	if cfg.Vocab != nil && !c.IsSet("vocab") {
		v.vocab = *cfg.Vocab
	}
	if cfg.Hidden != nil && !c.IsSet("hidden") {
		v.hidden = *cfg.Hidden
	}
	if cfg.ModelSeed != nil && !c.IsSet("model-seed") {
		v.modelSeed = *cfg.ModelSeed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c flagSetter, cfg Config, addr *string, maxModels *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxModels != nil && !c.IsSet("max-models") {
		*maxModels = *cfg.MaxModels
	}
}
