package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialsphere/simulator"

	"github.com/docopt/docopt-go"
	"github.com/lmittmann/tint"
)

const usage = `SocialSphere load simulator.

Registers users against a running server and drives posts, comments, likes
and sign-out/sign-in churn for the given duration.

Usage:
    simulator [--url=<url>] [--users=<n>] [--duration=<d>]
        [--posts=<rate>] [--comments=<rate>] [--likes=<rate>]
        [--disconnect=<p>] [--reconnect=<p>] [--zipf=<s>] [--debug]
    simulator -h | --help

Options:
    -h --help            Show this screen.
    --url=<url>          Server base URL [default: http://localhost:8080].
    --users=<n>          Number of simulated users [default: 10].
    --duration=<d>       Simulation time [default: 10m].
    --posts=<rate>       Posts per user per hour [default: 100].
    --comments=<rate>    Comments per user per hour [default: 60].
    --likes=<rate>       Like toggles per user per hour [default: 100].
    --disconnect=<p>     Per-second sign-out probability [default: 0.01].
    --reconnect=<p>      Per-second sign-in probability [default: 0.05].
    --zipf=<s>           Zipf exponent for picking posts [default: 1.07].
    --debug              Verbose colored logs.`

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	debug, _ := opts.Bool("--debug")
	logger := newLogger(debug)

	config, err := simConfig(opts)
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	logger.Info("starting simulation",
		"url", config.EngineURL,
		"users", config.NumUsers,
		"duration", config.SimulationTime,
		"post_rate", config.PostFrequency,
		"comment_rate", config.CommentFrequency,
		"like_rate", config.LikeFrequency,
		"disconnect_rate", config.DisconnectRate,
		"reconnect_rate", config.ReconnectRate,
		"zipf", config.ZipfS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.SimulationTime)
	defer cancel()

	sim := simulator.NewEnhancedSimulator(config, logger)
	if err := sim.Run(ctx); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	m := sim.GetMetrics()
	logger.Info("simulation completed",
		"total_users", m.TotalUsers,
		"active_users", m.ActiveUsers,
		"posts", m.TotalPosts,
		"comments", m.TotalComments,
		"likes", m.TotalLikes,
		"unlikes", m.TotalUnlikes,
		"avg_latency", m.AverageLatency,
		"errors", m.ErrorCount,
	)
}

func simConfig(opts docopt.Opts) (simulator.SimConfig, error) {
	var (
		config simulator.SimConfig
		err    error
	)
	if config.EngineURL, err = opts.String("--url"); err != nil {
		return config, err
	}
	if config.NumUsers, err = opts.Int("--users"); err != nil {
		return config, err
	}
	duration, err := opts.String("--duration")
	if err != nil {
		return config, err
	}
	if config.SimulationTime, err = time.ParseDuration(duration); err != nil {
		return config, err
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"--posts", &config.PostFrequency},
		{"--comments", &config.CommentFrequency},
		{"--likes", &config.LikeFrequency},
		{"--disconnect", &config.DisconnectRate},
		{"--reconnect", &config.ReconnectRate},
		{"--zipf", &config.ZipfS},
	}
	for _, f := range floats {
		if *f.dst, err = opts.Float64(f.key); err != nil {
			return config, fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return config, nil
}

func newLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
