package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hivemind/internal/agent"
	"hivemind/internal/config"
	"hivemind/internal/hub"
	"hivemind/internal/logging"
	"hivemind/internal/oracle"
)

var (
	// Global flags
	verbose   bool
	workspace string
	cfgPath   string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "hivemind - multi-agent coordination layer",
	Long: `hivemind coordinates many autonomous LLM-driven agents: per-agent
response arbitration, emotional and relationship state, leader/worker command
routing, and a central rendezvous hub.

Run "hivemind hub" to start the hub, then one "hivemind agent" per agent
process.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the coordination hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		h := hub.New(parseDur(cfg.Hub.SnapshotTTL, 5*time.Second))
		srv := hub.NewServer(h, cfg.Hub.ListenAddr)
		if err := srv.Start(); err != nil {
			return err
		}
		logger.Info("hub listening", zap.String("addr", srv.Addr()))

		waitForSignal()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

var (
	agentName   string
	agentRole   string
	agentLeader string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run one agent process",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if agentRole != "" {
			cfg.Agent.Role = agentRole
		}
		if agentLeader != "" {
			cfg.Agent.LeaderID = agentLeader
		}
		if agentName == "" {
			return fmt.Errorf("--name is required")
		}

		opts := agent.Options{}
		if cfg.Agent.Role != string(hub.RoleWorker) {
			oc, err := oracle.NewGenAIClient(cfg.Oracle.APIKey, cfg.Oracle.Model,
				cfg.OracleTimeout(), cfg.OracleCacheTTL())
			if err != nil {
				logger.Warn("oracle unavailable, running on heuristics", zap.Error(err))
			} else {
				opts.Oracle = oc
			}
		}

		rt, err := agent.New(agentName, cfg, opts)
		if err != nil {
			return err
		}
		if err := rt.Connect(cfg.Hub.URL); err != nil {
			// Registration conflict is the one fatal startup error.
			return fmt.Errorf("connect to hub: %w", err)
		}

		personaPath := filepath.Join(workspace, ".hive", "persona.yaml")
		if _, statErr := os.Stat(personaPath); statErr == nil {
			if err := rt.WatchPersona(personaPath); err != nil {
				logger.Warn("persona watch failed", zap.Error(err))
			}
		}

		logger.Info("agent running",
			zap.String("name", agentName),
			zap.String("role", cfg.Agent.Role))

		waitForSignal()
		rt.Shutdown()
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	return config.LoadWorkspace(workspace)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func parseDur(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: <workspace>/.hive/config.yaml)")

	agentCmd.Flags().StringVar(&agentName, "name", "", "agent name (required)")
	agentCmd.Flags().StringVar(&agentRole, "role", "", "leader, worker, or standalone")
	agentCmd.Flags().StringVar(&agentLeader, "leader", "", "leader id (workers only)")

	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(agentCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
