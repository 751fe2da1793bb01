package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/internal/checkpoint"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/history"
	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/internal/tools/policy"
	"github.com/restflow/engine/pkg/models"
)

func buildResumeCmd() *cobra.Command {
	var (
		checkpointID string
		taskID       string
		scriptPath   string
		configPath   string
		checkpointDB string
		userMessage  string
		approved     bool
		metricsAddr  string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted invocation from a checkpoint",
		Long: `Loads a checkpoint (by id or task id), applies a ResumePayload, and re-enters
the executor loop with the reconstituted AgentState (§4.5).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpointID == "" && taskID == "" {
				return fmt.Errorf("one of --checkpoint-id or --task-id is required")
			}
			if scriptPath == "" {
				return fmt.Errorf("--script is required")
			}

			turns, err := loadScript(scriptPath)
			if err != nil {
				return err
			}

			engineCfg := config.DefaultEngineConfig()
			toolsCfg := config.DefaultToolExecutionConfig()
			if configPath != "" {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				engineCfg = cfg.Engine
				toolsCfg = cfg.Tools.Execution
			}

			logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})

			dbPath := checkpointDB
			if dbPath == "" {
				dbPath = engineCfg.Checkpoint.DatabasePath
			}
			store, err := checkpoint.OpenSQLiteStore(dbPath, logger)
			if err != nil {
				return fmt.Errorf("open checkpoint store: %w", err)
			}

			id := checkpointID
			if id == "" {
				cp, err := store.LoadCheckpointByTaskID(cmd.Context(), taskID)
				if err != nil {
					return fmt.Errorf("load checkpoint by task id: %w", err)
				}
				id = cp.ID
			}

			payload := models.ResumePayload{
				CheckpointID: id,
				Approved:     approved,
				UserMessage:  userMessage,
			}
			state, err := checkpoint.Resume(cmd.Context(), store, payload, time.Now())
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}

			obs := setupObservability(metricsAddr, traceEndpoint)
			defer obs.shutdown(cmd.Context())
			store.Metrics = obs.metrics

			llm := newScriptClient("script-model", turns)
			registry := buildDemoRegistry()
			channelEmitter := agent.NewChannelEmitter(64)
			defer channelEmitter.Close()

			guard := agent.ToolResultGuardFromConfig(toolsCfg.ResultGuard)
			emitter := agent.NewPersistingEmitter(channelEmitter, store, state.ExecutionID, logger, guard, policy.NewResolver())

			exec := agent.NewExecutor(llm, registry, history.NewPipeline(), emitter, engineCfg, toolsCfg, store)
			exec.Logger = logger
			exec.Metrics = obs.metrics
			exec.Tracer = obs.tracer
			go drainEvents(cmd, channelEmitter)

			result := exec.RunWithState(cmd.Context(), state, "", agent.InvocationOptions{})
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVar(&checkpointID, "checkpoint-id", "", "the checkpoint id to resume")
	cmd.Flags().StringVar(&taskID, "task-id", "", "resume the most recent checkpoint for this task id")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a JSON script of LLM turns for the resumed run")
	cmd.Flags().StringVar(&configPath, "config", "", "path to an engine config file (YAML or JSON5)")
	cmd.Flags().StringVar(&checkpointDB, "checkpoint-db", "", "path to the checkpoint SQLite database")
	cmd.Flags().StringVar(&userMessage, "user-message", "", "an extra user message to append before resuming")
	cmd.Flags().BoolVar(&approved, "approved", true, "whether the pending approval was granted")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP/gRPC collector endpoint for span export (e.g. localhost:4317); disabled if empty")

	return cmd
}
