package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xyzzy121/Unicopia/internal/app"
	"github.com/xyzzy121/Unicopia/internal/config"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unicopia",
		Short: "Unicopia ability server",
		Long: `Unicopia runs the ability activation core: an authority hub that
decides activations, or an observer hub that mirrors one.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewObserveCmd())
	cmd.AddCommand(NewCatalogCmd())

	return cmd
}

// serverFlags are the settings exposed as flags. Flags the user sets
// override the environment.
type serverFlags struct {
	addr     string
	dbPath   string
	catalog  []string
	tickRate int
	world    string
	upstream string
}

func (f *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "sqlite database path (empty = in memory)")
	cmd.Flags().StringSliceVar(&f.catalog, "catalog", nil, "ability catalog files, later ones override")
	cmd.Flags().IntVar(&f.tickRate, "tick-rate", 20, "simulation ticks per second")
	cmd.Flags().StringVar(&f.world, "world", "overworld", "world name")
}

func (f *serverFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("db") {
		cfg.DBPath = f.dbPath
	}
	if changed("catalog") {
		cfg.CatalogPath = f.catalog
	}
	if changed("tick-rate") {
		cfg.TickRate = f.tickRate
	}
	if changed("world") {
		cfg.World = f.world
	}
	if changed("upstream") {
		cfg.Upstream = f.upstream
	}
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an authority hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			return runServer(cmd.Context(), cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

// NewObserveCmd creates the observe subcommand.
func NewObserveCmd() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Run an observer hub that mirrors an authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			cfg.Role = "observer"
			return runServer(cmd.Context(), cfg)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.upstream, "upstream", "", "authority replication URL, e.g. ws://host:8080/replicate")
	return cmd
}

func runServer(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, cfg, app.Options{})
}
