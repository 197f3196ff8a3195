package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MrLemur/retcon/internal/config"
	"github.com/MrLemur/retcon/internal/engine"
	"github.com/MrLemur/retcon/internal/services"
	"github.com/MrLemur/retcon/internal/ui"
	"github.com/google/uuid"
	ollama "github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newExecuteCmd(g *globalFlags) *cobra.Command {
	f := &executeFlags{}
	cmd := &cobra.Command{
		Use:   "execute <spec.toml>",
		Short: "Execute the reconstruction from a history specification",
		Long: `Execute rebuilds the cleaned branch commit by commit. Progress is recorded in the
specification file after every step, so an interrupted run resumes where it stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, f.overrides(cmd.Flags()))
			if err != nil {
				return err
			}
			return runExecute(cmd, cfg, f, args[0])
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func runExecute(cmd *cobra.Command, cfg *config.Config, f *executeFlags, specPath string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := loadStore(specPath)
	if err != nil {
		return err
	}
	spec := store.Spec()

	gitSvc, err := services.OpenRepository(f.RepoPath)
	if err != nil {
		return err
	}
	gitSvc.SetAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	if abs, err := filepath.Abs(specPath); err == nil {
		gitSvc.Exclude(abs)
	}

	var dashboard *ui.Dashboard
	logOut := cmd.ErrOrStderr()
	if f.TUI {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		dashboard = ui.NewDashboard(gitSvc.RepoName(), spec, cancel)
		logOut = dashboard.LogWriter()
	}

	closer, err := setupLogging(cfg, logOut)
	if err != nil {
		return err
	}
	defer closer.Close()
	ui.WithRunID(uuid.NewString())
	if cfg.Path != "" {
		log.Debug().Str("path", cfg.Path).Msg("Loaded configuration")
	}

	verifier := services.NewVerifier(gitSvc.Root(),
		services.Step{Name: "build", Command: cfg.Build.Command, Skip: cfg.Build.Skip},
		services.Step{Name: "test", Command: cfg.Test.Command, Skip: cfg.Test.Skip},
	)

	client, err := ollama.ClientFromEnvironment()
	if err != nil {
		return fmt.Errorf("failed to create Ollama client: %w", err)
	}
	ollamaCfg := services.OllamaConfig{
		Model:       cfg.Ollama.Model,
		Temperature: cfg.Ollama.Temperature,
		MaxTurns:    cfg.Ollama.MaxTurns,
		MaxDiff:     cfg.Ollama.MaxDiff,
	}
	if index, pending := spec.ResumeIndex(); pending && !spec.Commits[index].IsStuck() {
		log.Info().Str("model", cfg.Ollama.Model).Msg("Checking if Ollama is available")
		if err := services.CheckOllamaAvailability(ctx, client); err != nil {
			return err
		}
		if size, err := services.GetModelContextSize(ctx, client, cfg.Ollama.Model); err != nil {
			log.Warn().Err(err).Msg("Could not determine model context size, diff size is limited by ollama.max_diff only")
		} else {
			ollamaCfg.ContextSize = size
		}
	}
	reasoner, err := services.NewOllamaReasoner(client, ollamaCfg)
	if err != nil {
		return err
	}

	deps := engine.Deps{
		Store:    store,
		Branches: gitSvc,
		Verifier: verifier,
		Reasoner: reasoner,
		Tools:    services.NewWorkspace(gitSvc, verifier, spec.Source, spec.Cleaned),
		Observer: ui.NewProgressPrinter(cmd.OutOrStdout()),
	}
	if dashboard != nil {
		deps.Observer = dashboard
	}
	eng := engine.New(deps, engine.Options{
		WIPPrefix:    cfg.Engine.WIPPrefix,
		MaxFixRounds: cfg.Engine.MaxFixRounds,
	})

	if dashboard == nil {
		result, err := eng.Run(ctx)
		return report(cmd, result, err)
	}

	var (
		result engine.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
		outcome := reportError(result, runErr)
		if outcome == nil {
			dashboard.ShowOutcome(fmt.Sprintf("All %d commits reconstructed.", len(spec.Commits)), false)
		} else {
			dashboard.ShowOutcome(outcome.Error(), true)
		}
	}()
	if err := dashboard.Run(); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	<-done
	return report(cmd, result, runErr)
}

// reportError converts the outcome of a run into the error returned to the shell
func reportError(result engine.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	if result.Outcome == engine.OutcomeStuck {
		return NewExitError(ExitStuck, fmt.Sprintf(
			"commit %d (%q) is stuck: %s\nfix the branch or the specification, then run `retcon resolve --note \"...\"` and execute again",
			result.Index+1, result.Message, result.Summary))
	}
	return nil
}

func report(cmd *cobra.Command, result engine.Result, err error) error {
	if outcome := reportError(result, err); outcome != nil {
		return outcome
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reconstruction complete (%d commits completed in this run)\n", result.Completed)
	if result.RemainingDiff != "" {
		fmt.Fprintln(out, "Warning: the cleaned branch still differs from source:")
		fmt.Fprintln(out, result.RemainingDiff)
	}
	return nil
}
