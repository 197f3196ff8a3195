package commands

import (
	"io"
	"os"

	"github.com/MrLemur/retcon/internal/config"
	"github.com/MrLemur/retcon/internal/services"
	"github.com/MrLemur/retcon/internal/ui"
	"github.com/spf13/cobra"
)

// NewRootCmd constructs the retcon root command
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "retcon",
		Short:         "Reconstruct clean git history from messy branches",
		Long:          "retcon rebuilds a branch as a sequence of reviewable commits described by a TOML history specification, verifying that every commit builds.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(cmd.PersistentFlags())

	cmd.AddCommand(newPromptCmd())
	cmd.AddCommand(newExecuteCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newResolveCmd(g))
	return cmd
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = io.WriteString(os.Stderr, "Error: "+err.Error()+"\n")
		return ExitCodeOf(err)
	}
	return 0
}

// loadConfig loads the configuration with the global flags and extra overrides applied
func loadConfig(cmd *cobra.Command, g *globalFlags, extra map[string]interface{}) (*config.Config, error) {
	overrides := g.overrides(cmd.Flags())
	for k, v := range extra {
		overrides[k] = v
	}
	cfg, err := config.Load(g.ConfigPath, overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging routes logs to out and the configured debug file
func setupLogging(cfg *config.Config, out io.Writer) (io.Closer, error) {
	return ui.SetupLogging(cfg.Log.Level, out, cfg.Log.File)
}

// setupCommandLogging configures logging to stderr for commands without their own flags
func setupCommandLogging(cmd *cobra.Command, g *globalFlags) (io.Closer, error) {
	cfg, err := loadConfig(cmd, g, nil)
	if err != nil {
		return nil, err
	}
	return setupLogging(cfg, cmd.ErrOrStderr())
}

// loadStore loads the spec file, mapping failures to their exit code
func loadStore(path string) (*services.SpecStore, error) {
	store, err := services.LoadSpec(path)
	if err != nil {
		return nil, classify(err)
	}
	return store, nil
}
