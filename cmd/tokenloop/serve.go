package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tokenloop/internal/api"
	"github.com/samcharles93/tokenloop/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		v           samplingVars
		addr        string
		readTimeout time.Duration
		maxModels   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sampling REST API",
		Flags: append(samplingFlags(&v),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-models",
				Usage:       "toy models kept in memory",
				Value:       api.DefaultMaxModels,
				Destination: &maxModels,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applySamplingConfig(cmd, cfg, &v)
			applyServeConfig(cmd, cfg, &addr, &maxModels)
			log := logger.FromContext(ctx)

			store := api.NewSampleStore()
			service := api.NewSamplingService(api.NewCachedModelProvider(int(maxModels)), defaultsFrom(v))
			server := api.NewServer(store, service, log.WithGroup("api"))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "vocab", v.vocab, "hidden", v.hidden, "max_models", maxModels)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
