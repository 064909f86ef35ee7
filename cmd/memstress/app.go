// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/wundergraph/go-memkit/pool/observe"
)

// env is shared by all commands of one run.
type env struct {
	logger     *logrus.Logger
	workers    int
	iterations int

	registry *prometheus.Registry
	metrics  *observe.Metrics
	server   *http.Server
}

func newApp(logger *logrus.Logger) *cli.App {
	e := &env{logger: logger}

	return &cli.App{
		Name:  "memstress",
		Usage: "stress the go-memkit allocators and pools",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   8,
				Usage:   "number of concurrent workers",
				EnvVars: []string{"MEMSTRESS_WORKERS"},
			},
			&cli.IntFlag{
				Name:    "iterations",
				Aliases: []string{"n"},
				Value:   10000,
				Usage:   "iterations per worker",
				EnvVars: []string{"MEMSTRESS_ITERATIONS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "logrus level: debug, info, warn, error",
				EnvVars: []string{"MEMSTRESS_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Usage:   "log as JSON",
				EnvVars: []string{"MEMSTRESS_JSON"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve prometheus metrics on this address, e.g. :2112",
				EnvVars: []string{"MEMSTRESS_METRICS_ADDR"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return errors.Wrap(err, "parse log level")
			}
			e.logger.SetLevel(level)
			if c.Bool("json") {
				e.logger.SetFormatter(&logrus.JSONFormatter{})
			}

			e.workers = c.Int("workers")
			e.iterations = c.Int("iterations")
			if e.workers < 1 {
				return errors.Errorf("workers must be positive, got %d", e.workers)
			}
			if e.iterations < 0 {
				return errors.Errorf("iterations cannot be negative, got %d", e.iterations)
			}

			e.registry = prometheus.NewRegistry()
			e.registry.MustRegister(collectors.NewGoCollector())
			e.metrics = observe.NewMetrics(e.registry)

			if addr := c.String("metrics-addr"); addr != "" {
				return e.serveMetrics(addr)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if e.server == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Wrap(e.server.Shutdown(ctx), "stop metrics server")
		},
		Commands: []*cli.Command{
			poolCommand(e),
			stackCommand(e),
			arenaCommand(e),
			asyncCommand(e),
		},
	}
}

func (e *env) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.WithField("action", "memstress_metrics_server").WithError(err).Error("metrics server stopped")
		}
	}()
	e.logger.WithFields(logrus.Fields{
		"action": "memstress_metrics_server",
		"addr":   ln.Addr().String(),
	}).Info("serving metrics")
	return nil
}
