package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tokenloop/internal/api"
)

func filterCmd() *cli.Command {
	var (
		scores  string
		topK    int64
		topP    float64
		minKeep int64
		asJSON  bool
	)

	return &cli.Command{
		Name:  "filter",
		Usage: "Apply top-k/top-p filtering to a score matrix",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "scores",
				Usage:       "scores: comma separated, ';' between rows",
				Required:    true,
				Destination: &scores,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Usage:       "keep the k highest scores (unset disables)",
				Destination: &topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "keep the smallest prefix with cumulative probability <= p (unset disables)",
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "min-keep",
				Usage:       "minimum number of entries kept per row",
				Value:       1,
				Destination: &minKeep,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the result as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			matrix, err := parseFloatRows(scores)
			if err != nil {
				return fmt.Errorf("scores: %w", err)
			}
			req := &api.FilterRequest{Scores: matrix}
			if cmd.IsSet("top-k") {
				k := int(topK)
				req.TopK = &k
			}
			if cmd.IsSet("top-p") {
				req.TopP = &topP
			}
			mk := int(minKeep)
			req.MinTokensToKeep = &mk

			service := api.NewSamplingService(nil, api.DefaultDefaults())
			resp, err := service.Filter(req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			for i := range resp.Scores {
				fmt.Println(formatFiltered(i, resp))
			}
			return nil
		},
	}
}

func formatFiltered(row int, resp *api.FilterResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "row %d (keep %d):", row, resp.Keep[row])
	for j, s := range resp.Scores[row] {
		if math.IsInf(float64(s), -1) {
			continue
		}
		fmt.Fprintf(&b, " %d=%.4g", resp.Indices[row][j], float64(s))
	}
	return b.String()
}
