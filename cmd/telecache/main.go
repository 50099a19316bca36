package main

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/macrat/telecache/internal/config"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/meta"
	"github.com/spf13/pflag"
)

//go:embed help.txt
var helpText string

// Streams are the standard streams of a command.
type Streams struct {
	OutStream io.Writer
	ErrStream io.Writer
}

var defaultStreams = Streams{
	OutStream: os.Stdout,
	ErrStream: os.Stderr,
}

func (s Streams) PrintUsage(detail bool) {
	tmpl := template.Must(template.New("help.txt").Parse(helpText))
	tmpl.Execute(s.ErrStream, map[string]interface{}{
		"Version":  meta.Version,
		"TokenEnv": config.TokenEnv,
		"Short":    !detail,
	})
}

func (s Streams) PrintVersion() {
	fmt.Fprintf(s.OutStream, "Telecache version %s\n", meta.String())
}

// CommonFlags are the options every subcommand accepts.
type CommonFlags struct {
	ConfigPath  string
	CacheDir    string
	LogLevel    string
	LogJSON     bool
	ShowVersion bool
	ShowHelp    bool

	flags *pflag.FlagSet
}

// NewFlagSet creates a flag set with the common flags registered.
func (c *CommonFlags) NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.StringVarP(&c.ConfigPath, "config", "c", "", "Path to the configuration file")
	flags.StringVarP(&c.CacheDir, "cache-dir", "d", "", "Directory of the cache files")
	flags.StringVar(&c.LogLevel, "log-level", "", "Log level")
	flags.BoolVar(&c.LogJSON, "log-json", false, "Write logs as JSON lines")
	flags.BoolVarP(&c.ShowVersion, "version", "v", false, "Show version")
	flags.BoolVarP(&c.ShowHelp, "help", "h", false, "Show help message")

	c.flags = flags
	return flags
}

// Parse parses args and handles -h and -v.
// done is true if the command should exit with exitCode without doing anything else.
func (c *CommonFlags) Parse(s Streams, args []string) (exitCode int, done bool) {
	if err := c.flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(s.ErrStream, err)
		fmt.Fprintf(s.ErrStream, "\nPlease see `%s -h` for more information.\n", c.flags.Name())
		return 2, true
	}

	if c.ShowVersion {
		s.PrintVersion()
		return 0, true
	}
	if c.ShowHelp {
		s.PrintUsage(true)
		return 0, true
	}

	return 0, false
}

// Load reads the configuration file, or the defaults if no file is given, and applies the flags and overrides over it.
func (c *CommonFlags) Load(overrides ...func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	var err error

	if c.ConfigPath == "" {
		cfg = config.Default()
		cfg.ApplyEnv()
	} else if cfg, err = config.Load(c.ConfigPath); err != nil {
		return cfg, err
	}

	if c.CacheDir != "" {
		cfg.Cache.Dir = c.CacheDir
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogJSON {
		cfg.Log.JSON = true
	}
	for _, o := range overrides {
		o(&cfg)
	}

	return cfg, cfg.Validate()
}

// ConfigureLogger sets up the global logger as cfg says, writing to the error stream.
func (s Streams) ConfigureLogger(cfg config.Config) {
	logger.Configure(logger.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		Out:   s.ErrStream,
	})
}

func main() {
	args := os.Args

	if len(args) > 1 {
		switch args[1] {
		case "serve":
			args = append([]string{args[0] + " serve"}, args[2:]...)
		case "sync":
			os.Exit(NewSyncCommand(defaultStreams).Run(append([]string{args[0] + " sync"}, args[2:]...)))
		case "status":
			os.Exit(NewStatusCommand(defaultStreams).Run(append([]string{args[0] + " status"}, args[2:]...)))
		case "export":
			os.Exit(NewExportCommand(defaultStreams).Run(append([]string{args[0] + " export"}, args[2:]...)))
		}
	}

	os.Exit(NewServeCommand(defaultStreams).Run(args))
}
