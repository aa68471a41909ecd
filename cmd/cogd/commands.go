package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cogkernel/internal/notify"
	"cogkernel/internal/policy"
	"cogkernel/internal/supervisor"
	"cogkernel/internal/worker"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize the kernel directory, store, and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("setup", "init", nil, nil)
	},
}

var (
	ingestType       string
	ingestContent    string
	ingestSymbols    string
	ingestDeps       string
	ingestComplexity float64
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a knowledge chunk for a file",
	Long: `Writes one derived chunk for the file, replacing any existing chunk of
the same type, and queues it for embedding. Requires a live change
session (--session). Content comes from --content, or stdin when the
flag is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ingestContent
		if content == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read content from stdin: %w", err)
			}
			content = string(data)
		}
		return invokeTool("ingest_chunk", "cli", map[string]string{
			"type":         ingestType,
			"content":      content,
			"symbols":      ingestSymbols,
			"dependencies": ingestDeps,
			"complexity":   strconv.FormatFloat(ingestComplexity, 'f', -1, 64),
		}, []string{args[0]})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [chunk-id]",
	Short: "Delete a chunk and its derived rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("delete_chunk", "cli", map[string]string{"id": args[0]}, nil)
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored chunks",
	Long: `Ranks chunks by vector similarity when an embedding provider is
reachable, falling back to lexical matching otherwise.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("search", "cli", map[string]string{
			"query": args[0],
			"limit": strconv.Itoa(searchLimit),
		}, nil)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, queue, worker, and lock status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("status", "cli", nil, nil)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Background job operations",
}

var jobsStatus string

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("list_jobs", "cli", map[string]string{"status": jobsStatus}, nil)
	},
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue [reindex|validate|setup]",
	Short: "Enqueue a background job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("enqueue_job", "cli", map[string]string{"type": args[0]}, nil)
	},
}

var patchCmd = &cobra.Command{
	Use:   "propose [file...]",
	Short: "Propose a patch against the session's base revision",
	Long: `Records a patch artifact against the change session named by
--session. The diff is read from stdin; named files are checked for
containment and lock collisions before the patch is accepted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read diff from stdin: %w", err)
		}
		return invokeTool("propose_patch", "cli", map[string]string{"diff": string(data)}, args)
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock [resource]",
	Short: "Acquire an advisory lock on a file or symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("acquire_lock", "cli", map[string]string{"resource": args[0]}, nil)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [resource]",
	Short: "Release an advisory lock you hold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("release_lock", "cli", map[string]string{"resource": args[0]}, nil)
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Change session operations",
}

var (
	sessionIntent     string
	sessionBaseCommit string
)

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a change session and print its token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("start_session", "cli", map[string]string{
			"intent":      sessionIntent,
			"base_commit": sessionBaseCommit,
		}, nil)
	},
}

var sessionAdvanceCmd = &cobra.Command{
	Use:   "advance [validating|finalized|aborted]",
	Short: "Advance the session named by --session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("advance_session", "cli", map[string]string{"to": args[0]}, nil)
	},
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Blackboard operations",
}

var (
	boardType     string
	boardTopic    string
	boardEvidence string
	boardFilter   struct{ Type, Topic, Author, Status string }
	resolveStatus string
)

var boardPostCmd = &cobra.Command{
	Use:   "post [body]",
	Short: "Post to the blackboard",
	Long: `Posts a memo visible to every agent. Any post other than a question
must cite at least one evidence id (--evidence, comma separated).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("post_board", "cli", map[string]string{
			"type":     boardType,
			"topic":    boardTopic,
			"body":     args[0],
			"evidence": boardEvidence,
		}, nil)
	},
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "Query blackboard posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("query_board", "cli", map[string]string{
			"type":   boardFilter.Type,
			"topic":  boardFilter.Topic,
			"author": boardFilter.Author,
			"status": boardFilter.Status,
		}, nil)
	},
}

var boardResolveCmd = &cobra.Command{
	Use:   "resolve [post-id]",
	Short: "Resolve or supersede a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("resolve_post", "cli", map[string]string{
			"id":     args[0],
			"status": resolveStatus,
		}, nil)
	},
}

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Reactive contract operations",
}

var (
	contractTrigTool   string
	contractTrigAction string
	contractTarget     string
	contractTargetArgs string
)

var contractRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a reactive contract",
	Long: `Registers a rule that chains a follow-up tool call whenever the
trigger tool/action pair completes successfully. Chaining depth is
bounded; cycles terminate silently at the depth limit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("register_contract", "cli", map[string]string{
			"trigger_tool":   contractTrigTool,
			"trigger_action": contractTrigAction,
			"target_tool":    contractTarget,
			"target_args":    contractTargetArgs,
		}, nil)
	},
}

var contractListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, closer, err := openKernel()
		if err != nil {
			return err
		}
		defer closer()
		contracts, err := k.Store.ListContracts()
		if err != nil {
			return err
		}
		printJSON(contracts)
		return nil
	},
}

var contractDeleteCmd = &cobra.Command{
	Use:   "delete [contract-id]",
	Short: "Delete a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("delete_contract", "cli", map[string]string{"id": args[0]}, nil)
	},
}

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Trace artifact operations",
}

var (
	tracesTool      string
	tracesOlderThan string
)

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trace artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("list_traces", "cli", map[string]string{"tool": tracesTool}, nil)
	},
}

var tracesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune trace artifacts older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("prune_traces", "cli", map[string]string{"older_than": tracesOlderThan}, nil)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent [agent-id]",
	Short: "Show an agent's standing and allowed tools",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := agentID
		if len(args) > 0 {
			id = args[0]
		}
		k, closer, err := openKernel()
		if err != nil {
			return err
		}
		defer closer()

		profile, err := k.Store.GetOrCreateAgent(id)
		if err != nil {
			return err
		}
		printJSON(map[string]interface{}{
			"profile":       profile,
			"allowed_tools": policy.AllowedTools(profile.Rank),
		})
		return nil
	},
}

var (
	evalDelta    string
	evalSafety   string
	evalEvidence string
)

var agentEvaluateCmd = &cobra.Command{
	Use:   "evaluate <agent-id>",
	Short: "Score an agent's work and move its standing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool("evaluate_agent", "cli", map[string]string{
			"agent":    args[0],
			"delta":    evalDelta,
			"safety":   evalSafety,
			"evidence": evalEvidence,
		}, nil)
	},
}

var supervisorCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Run the background job supervisor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, closer, err := openKernel()
		if err != nil {
			return err
		}
		defer closer()

		var sink notify.Notifier = notify.Nop()
		if cfg.Notify.Enabled {
			sink = notify.NewLog(cfg.Notify.Throttle)
		}
		sup := supervisor.New(k.Store, cfg.Supervisor, supervisor.NewFileExtractor(k.Guard), sink)

		ctx, stop := signalContext()
		defer stop()
		logger.Info("supervisor running", zap.String("run_id", sup.RunID()))
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "embed-worker",
	Short: "Run the embedding queue worker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, closer, err := openKernel()
		if err != nil {
			return err
		}
		defer closer()
		if k.Embedder == nil {
			return fmt.Errorf("no embedding provider configured")
		}

		ctx, stop := signalContext()
		defer stop()
		logger.Info("embedding worker running", zap.String("engine", k.Embedder.Name()))
		if err := worker.New(k.Store, k.Embedder, cfg.Worker.PollInterval).Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestType, "type", "summary", "chunk type (summary, api, invariant)")
	ingestCmd.Flags().StringVar(&ingestContent, "content", "", "chunk content (stdin when empty)")
	ingestCmd.Flags().StringVar(&ingestSymbols, "symbols", "", "comma-separated declared symbols")
	ingestCmd.Flags().StringVar(&ingestDeps, "deps", "", "comma-separated dependency targets")
	ingestCmd.Flags().Float64Var(&ingestComplexity, "complexity", 0, "complexity score in [0,1]")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.AddCommand(jobsListCmd, jobsEnqueueCmd)

	sessionStartCmd.Flags().StringVar(&sessionIntent, "intent", "", "what this session intends to change")
	sessionStartCmd.Flags().StringVar(&sessionBaseCommit, "base-commit", "", "base revision (defaults to git HEAD)")
	sessionCmd.AddCommand(sessionStartCmd, sessionAdvanceCmd)

	boardPostCmd.Flags().StringVar(&boardType, "type", "finding", "post type (proposal, finding, question, decision, incident)")
	boardPostCmd.Flags().StringVar(&boardTopic, "topic", "", "post topic")
	boardPostCmd.Flags().StringVar(&boardEvidence, "evidence", "", "comma-separated evidence ids")
	boardListCmd.Flags().StringVar(&boardFilter.Type, "type", "", "filter by type")
	boardListCmd.Flags().StringVar(&boardFilter.Topic, "topic", "", "filter by topic")
	boardListCmd.Flags().StringVar(&boardFilter.Author, "author", "", "filter by author")
	boardListCmd.Flags().StringVar(&boardFilter.Status, "status", "", "filter by status")
	boardResolveCmd.Flags().StringVar(&resolveStatus, "status", "resolved", "target status")
	boardCmd.AddCommand(boardPostCmd, boardListCmd, boardResolveCmd)

	contractRegisterCmd.Flags().StringVar(&contractTrigTool, "trigger-tool", "", "tool whose success triggers the chain")
	contractRegisterCmd.Flags().StringVar(&contractTrigAction, "trigger-action", "", "action that triggers the chain")
	contractRegisterCmd.Flags().StringVar(&contractTarget, "target-tool", "", "tool to invoke when triggered")
	contractRegisterCmd.Flags().StringVar(&contractTargetArgs, "target-args", "", "JSON string map of target arguments")
	contractCmd.AddCommand(contractRegisterCmd, contractListCmd, contractDeleteCmd)

	agentEvaluateCmd.Flags().StringVar(&evalDelta, "delta", "", "unscaled MMR delta, positive or negative")
	agentEvaluateCmd.Flags().StringVar(&evalSafety, "safety", "", "safety sub-score in [0,1] (defaults to 1)")
	agentEvaluateCmd.Flags().StringVar(&evalEvidence, "evidence", "", "comma-separated trace ids backing the evaluation")
	agentCmd.AddCommand(agentEvaluateCmd)

	tracesListCmd.Flags().StringVar(&tracesTool, "tool", "", "filter by tool invocation")
	tracesPruneCmd.Flags().StringVar(&tracesOlderThan, "older-than", "168h", "age threshold, as a Go duration")
	tracesCmd.AddCommand(tracesListCmd, tracesPruneCmd)
}
