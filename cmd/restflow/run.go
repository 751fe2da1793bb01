package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/internal/checkpoint"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/history"
	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/internal/tools/policy"
	"github.com/restflow/engine/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var (
		goal          string
		scriptPath    string
		configPath    string
		checkpointDB  string
		systemPrompt  string
		maxIterations int
		metricsAddr   string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single agent invocation against a scripted LLM client",
		Long: `Drives the executor loop to completion (or interruption) against a scripted
LLM client and the harness's in-tree demo tools (add, echo). The script file is a JSON
array of turns; see cmd/restflow for the shape.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if maxIterations > 0 {
				engineCfg.MaxIterations = maxIterations
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

			obs := setupObservability(metricsAddr, traceEndpoint)
			defer obs.shutdown(cmd.Context())
			store.Metrics = obs.metrics

			llm := newScriptClient("script-model", turns)
			registry := buildDemoRegistry()
			channelEmitter := agent.NewChannelEmitter(64)
			defer channelEmitter.Close()

			executionID := uuid.NewString()
			guard := agent.ToolResultGuardFromConfig(toolsCfg.ResultGuard)
			emitter := agent.NewPersistingEmitter(channelEmitter, store, executionID, logger, guard, policy.NewResolver())

			exec := agent.NewExecutor(llm, registry, history.NewPipeline(), emitter, engineCfg, toolsCfg, store)
			exec.Logger = logger
			exec.Metrics = obs.metrics
			exec.Tracer = obs.tracer

			go drainEvents(cmd, channelEmitter)

			result := exec.Run(cmd.Context(), agent.RunConfig{
				ExecutionID:   executionID,
				Goal:          goal,
				SystemPrompt:  systemPrompt,
				MaxIterations: maxIterations,
			})

			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVar(&goal, "goal", "", "the user goal to seed the invocation with")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a JSON script of LLM turns")
	cmd.Flags().StringVar(&configPath, "config", "", "path to an engine config file (YAML or JSON5)")
	cmd.Flags().StringVar(&checkpointDB, "checkpoint-db", "", "path to the checkpoint SQLite database")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "You are a helpful assistant with access to tools.", "system prompt to seed the invocation with")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the configured max_iterations (0 keeps the config default)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP/gRPC collector endpoint for span export (e.g. localhost:4317); disabled if empty")

	return cmd
}

func drainEvents(cmd *cobra.Command, emitter *agent.ChannelEmitter) {
	for ev := range emitter.Events() {
		fmt.Fprintf(cmd.ErrOrStderr(), "event: %s\n", ev.Type)
	}
}

func printResult(cmd *cobra.Command, result models.AgentResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
