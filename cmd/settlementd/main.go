package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"settlecraft.ai/internal/sim/geom"
)

var (
	verbose   bool
	logFormat string
	addr      string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "settlementd",
	Short: "Settlement builder daemon",
	Long: `settlementd runs a settlement of builder agents. Each placed station
claims a territory, spawns one builder and compiles its blueprint into a
build task the builder works through, crafting missing materials from the
station depot.

The run subcommand hosts the simulation; the others talk to a running
daemon over its loopback admin API or read snapshot files offline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if logFormat == "console" {
			config = zap.NewDevelopmentConfig()
		}
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log encoding: json or console")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8090", "HTTP listen address (run) or daemon address (clients)")

	rootCmd.AddCommand(runCmd, inspectCmd, stationsCmd, placeCmd, removeCmd, snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// parsePos reads "x,y,z".
func parsePos(s string) (geom.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Vec3i{}, fmt.Errorf("bad position %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geom.Vec3i{}, fmt.Errorf("bad position %q: %w", s, err)
		}
		v[i] = n
	}
	return geom.Vec3i{X: v[0], Y: v[1], Z: v[2]}, nil
}

// parseStation reads "x,y,z:blueprint[:rotation]".
func parseStation(s string) (pos geom.Vec3i, blueprint string, rotation int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
		return pos, "", 0, fmt.Errorf("bad station %q: want x,y,z:blueprint[:rotation]", s)
	}
	if pos, err = parsePos(parts[0]); err != nil {
		return pos, "", 0, err
	}
	if len(parts) == 3 {
		if rotation, err = strconv.Atoi(parts[2]); err != nil {
			return pos, "", 0, fmt.Errorf("bad station %q: %w", s, err)
		}
	}
	return pos, parts[1], rotation, nil
}
