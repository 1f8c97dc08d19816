package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tokenloop/internal/api"
	"github.com/samcharles93/tokenloop/internal/logger"
)

func runCmd() *cli.Command {
	var (
		v        samplingVars
		prompt   string
		startIDs string
		batch    int64
		asJSON   bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate token ids with a toy model",
		Flags: append(samplingFlags(&v),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt token ids: comma separated, ';' between sequences",
				Value:       "1",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "start-ids",
				Usage:       "per-sequence start offsets for left-padded prompts, comma separated",
				Destination: &startIDs,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "repeat a single prompt this many times",
				Value:       1,
				Destination: &batch,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the result as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySamplingConfig(cmd, LoadConfig(), &v)
			log := logger.FromContext(ctx)

			rows, err := parseIntRows(prompt)
			if err != nil {
				return fmt.Errorf("prompt: %w", err)
			}
			rows = repeatRows(rows, int(batch))
			var starts []int
			if startIDs != "" {
				if starts, err = parseInts(startIDs); err != nil {
					return fmt.Errorf("start-ids: %w", err)
				}
			}

			req := &api.SampleRequest{Strategy: v.strategy, InputIDs: rows, StartIDs: starts}
			service := api.NewSamplingService(api.NewCachedModelProvider(1), defaultsFrom(v))
			log.Debug("sampling", "strategy", v.strategy, "batch", len(rows), "sequence_length", v.seqLen)
			resp, err := service.Sample(ctx, req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			for _, row := range resp.OutputIDs {
				fmt.Println(formatRow(row))
			}
			log.Info("done",
				"steps", resp.Stats.Steps,
				"forward_calls", resp.Stats.ForwardCalls,
				"early_stop", resp.Stats.EarlyStop,
				"tps", fmt.Sprintf("%.1f", resp.Stats.TokensPerSecond),
			)
			return nil
		},
	}
}

// defaultsFrom turns resolved flag values into service defaults, so a
// request only needs the prompt.
func defaultsFrom(v samplingVars) api.Defaults {
	d := api.DefaultDefaults()
	d.SequenceLength = int(v.seqLen)
	d.EOSTokenID = int(v.eos)
	d.TopK = int(v.topK)
	d.TopP = v.topP
	d.Temperature = v.temp
	d.Seed = v.seed
	d.Vocab = int(v.vocab)
	d.Hidden = int(v.hidden)
	d.ModelSeed = v.modelSeed
	return d
}
