package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cogkernel/internal/config"
	"cogkernel/internal/embedding"
	"cogkernel/internal/kernel"
	"cogkernel/internal/logging"
	"cogkernel/internal/security"
	"cogkernel/internal/store"
)

var (
	// Global flags
	workspace string
	agentID   string
	session   string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cogd",
	Short: "cogd - shared cognition kernel for coordinated code agents",
	Long: `cogd maintains a persistent, shared memory for multiple autonomous
code-editing agents working in one repository: an artifact store of
derived knowledge chunks, an embedding pipeline, background jobs, and
the coordination surface (locks, change sessions, blackboard) every
agent call is gated through.

All state lives under <workspace>/.cogkernel/.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = abs

		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Logging.Debug = true
		}

		if err := logging.Configure(workspace, cfg.Logging.Debug); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		if err := logging.ConfigureAudit(workspace); err != nil {
			return fmt.Errorf("failed to configure audit log: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "repository root the kernel serves")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "local", "calling agent identity")
	rootCmd.PersistentFlags().StringVar(&session, "session", "", "change session token for mutation calls")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		setupCmd,
		ingestCmd,
		deleteCmd,
		searchCmd,
		statusCmd,
		patchCmd,
		jobsCmd,
		lockCmd,
		unlockCmd,
		sessionCmd,
		boardCmd,
		contractCmd,
		tracesCmd,
		agentCmd,
		supervisorCmd,
		workerCmd,
	)
}

// openKernel builds the full kernel stack. The returned closer shuts the
// store down; callers must invoke it on every path.
func openKernel() (*kernel.Kernel, func(), error) {
	if err := os.MkdirAll(config.KernelDir(workspace), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create kernel directory: %w", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, nil, err
	}
	guard, err := security.NewPathGuard(workspace, cfg.Security.ForbiddenRoots)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	sandbox := security.NewSandbox(guard, cfg.Security.AllowedBinaries, cfg.Security.CommandTimeout)
	signer, err := security.LoadOrCreateSigner(cfg.SigningKeyPath())
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	k := kernel.New(st, guard, sandbox, signer, cfg)
	if engine, err := embedding.NewEngine(cfg.Embedding); err == nil {
		k.Embedder = engine
	} else {
		logger.Debug("embedding engine not configured", zap.Error(err))
	}
	return k, func() { _ = st.Close() }, nil
}

// invokeTool runs one wrapped call and prints the structured result. A
// non-ok status is reported through the exit code so scripts can branch
// on it.
func invokeTool(tool, action string, args map[string]string, paths []string) error {
	k, closer, err := openKernel()
	if err != nil {
		return err
	}
	defer closer()

	ctx, stop := signalContext()
	defer stop()

	result, err := k.Invoke(ctx, kernel.Request{
		Agent:        agentID,
		Tool:         tool,
		Action:       action,
		Args:         args,
		Paths:        paths,
		SessionToken: session,
	})
	if err != nil {
		return err
	}

	printJSON(result)
	if !result.OK() {
		return fmt.Errorf("%s: %s", result.Status, result.Reason)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
