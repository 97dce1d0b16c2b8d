package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/notargets/ddcmesh/comm"
	"github.com/notargets/ddcmesh/config"
	"github.com/notargets/ddcmesh/job"
)

func newRunCmd() *cobra.Command {
	var (
		cfgPath string
		rank    int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a partitioned mesh and run the valence check",
		Long: `Run loads every partition of the job's mesh, verifies the node counts and
assembles the nodal valence vector. With the websocket transport start one
process per rank, each with its own --rank; with the local transport one
process runs every rank.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			level, err := comm.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			var rep *job.Report
			switch cfg.Comm.Transport {
			case config.TransportWebSocket:
				rep, err = runProcess(cmd.Context(), cfg, rank, level, cmd.ErrOrStderr())
			default:
				rep, err = runLocal(cmd.Context(), cfg, level, cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			if rep != nil {
				return writeYAML(cmd.OutOrStdout(), rep)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "job.toml", "job file")
	cmd.Flags().IntVar(&rank, "rank", -1, "this process's rank (websocket transport)")
	return cmd
}

// runProcess runs this process's rank. Only Root returns a report.
func runProcess(ctx context.Context, cfg *config.Config, rank int, level slog.Level,
	logw io.Writer) (*job.Report, error) {
	if rank < 0 {
		return nil, errors.New("--rank is required with the websocket transport")
	}
	// Connection setup only reports problems
	dialLog := slog.New(slog.NewTextHandler(logw, &slog.HandlerOptions{Level: slog.LevelWarn})).With("rank", rank)
	c, err := comm.DialWebSocket(ctx, comm.WebSocketConfig{
		Rank:           rank,
		Peers:          cfg.Comm.Peers,
		Path:           cfg.Comm.Path,
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         dialLog,
	})
	if err != nil {
		return nil, fmt.Errorf("rank %d: %w", rank, err)
	}
	defer c.Close()

	logger := comm.NewLogger(logw, c, level, cfg.Log.AllRanks)
	rep, err := job.Run(ctx, c, cfg, logger)
	if err != nil {
		logger.Error("job failed", "err", err)
		c.Abort(err)
		return nil, err
	}
	if c.Rank() != comm.Root {
		return nil, nil
	}
	return rep, nil
}

// runLocal runs every rank of the job in this process
func runLocal(ctx context.Context, cfg *config.Config, level slog.Level, logw io.Writer) (*job.Report, error) {
	var (
		mu   sync.Mutex
		root *job.Report
		lw   = &lockedWriter{w: logw}
	)
	err := comm.NewWorld(cfg.Size()).Run(ctx, func(ctx context.Context, c comm.Comm) error {
		rep, err := job.Run(ctx, c, cfg, comm.NewLogger(lw, c, level, cfg.Log.AllRanks))
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			mu.Lock()
			root = rep
			mu.Unlock()
		}
		return nil
	})
	return root, err
}

// lockedWriter serializes the log writes of in-process ranks
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
