package commands

import (
	"strings"

	"github.com/spf13/pflag"
)

// executeFlags holds the command line flags of the execute command
type executeFlags struct {
	RepoPath     string
	Model        string
	Temperature  float64
	MaxDiff      int
	BuildCmd     string
	TestCmd      string
	SkipBuild    bool
	SkipTest     bool
	MaxFixRounds int
	TUI          bool
}

func (f *executeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.RepoPath, "repo", ".", "Path to the git repository")
	fs.StringVar(&f.Model, "model", "", "Ollama model to use for reconstruction")
	fs.Float64Var(&f.Temperature, "temperature", 0, "Temperature for model generation (0.0-1.0)")
	fs.IntVar(&f.MaxDiff, "max-diff", 0, "Maximum length of diff to send to the model")
	fs.StringVar(&f.BuildCmd, "build-cmd", "", "Build command, split on whitespace")
	fs.StringVar(&f.TestCmd, "test-cmd", "", "Test command, split on whitespace")
	fs.BoolVar(&f.SkipBuild, "skip-build", false, "Treat the build step as passed without running it")
	fs.BoolVar(&f.SkipTest, "skip-test", false, "Treat the test step as passed without running it")
	fs.IntVar(&f.MaxFixRounds, "max-fix-rounds", 0, "Declare a commit stuck after this many failed fix rounds (0 = unlimited)")
	fs.BoolVar(&f.TUI, "tui", false, "Show the interactive terminal dashboard")
}

// overrides maps the flags the user actually set onto configuration keys
func (f *executeFlags) overrides(fs *pflag.FlagSet) map[string]interface{} {
	out := map[string]interface{}{}
	set := func(flag, key string, value interface{}) {
		if fs.Changed(flag) {
			out[key] = value
		}
	}
	set("model", "ollama.model", f.Model)
	set("temperature", "ollama.temperature", f.Temperature)
	set("max-diff", "ollama.max_diff", f.MaxDiff)
	set("build-cmd", "build.command", strings.Fields(f.BuildCmd))
	set("test-cmd", "test.command", strings.Fields(f.TestCmd))
	set("skip-build", "build.skip", f.SkipBuild)
	set("skip-test", "test.skip", f.SkipTest)
	set("max-fix-rounds", "engine.max_fix_rounds", f.MaxFixRounds)
	return out
}

// globalFlags are shared by every command
type globalFlags struct {
	ConfigPath   string
	LogLevel     string
	DebugLogFile string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.ConfigPath, "config", "", "Path to the configuration file (default ./retcon.toml, then ~/.retcon.toml)")
	fs.StringVar(&g.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&g.DebugLogFile, "debug-log", "", "Path to output debug log file")
}

func (g *globalFlags) overrides(fs *pflag.FlagSet) map[string]interface{} {
	out := map[string]interface{}{}
	if fs.Changed("log-level") {
		out["log.level"] = g.LogLevel
	}
	if fs.Changed("debug-log") {
		out["log.file"] = g.DebugLogFile
	}
	return out
}
