// Command sentifyctl manages Sentify artifacts and exercises a running service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/sentify/internal/artifact"
	"github.com/opensource-finance/sentify/internal/domain"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Version information (set via ldflags)
var (
	Version = "dev"
	Commit  = "none"
)

var (
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs",
	}

	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a sentify YAML config file",
		Sources: cli.EnvVars("SENTIFY_CONFIG"),
	}

	sourceFlag = &cli.StringFlag{
		Name:  "source",
		Usage: "Artifact store override [file, sqlite, postgres]",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

func main() {
	_ = godotenv.Load()
	initLogging(false)

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            "sentifyctl",
		Version:         fmt.Sprintf("%s (%s)", Version, Commit),
		Usage:           "Operator CLI for the Sentify risk score service",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			debugFlag,
			configFlag,
			sourceFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			artifactsCmd,
			scoreCmd,
			replayCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool(debugFlag.Name) {
				initLogging(true)
			}
			return ctx, nil
		},
	}
}

func initLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// loadConfig resolves the service configuration the same way the server does,
// then applies the CLI overrides.
func loadConfig(cmd *cli.Command) (*domain.Config, error) {
	lookup := func(key string) (string, bool) {
		if key == "SENTIFY_CONFIG" {
			if p := cmd.String(configFlag.Name); p != "" {
				return p, true
			}
		}
		if key == "SENTIFY_ARTIFACT_SOURCE" {
			if s := cmd.String(sourceFlag.Name); s != "" {
				return s, true
			}
		}
		return os.LookupEnv(key)
	}
	return domain.Load(lookup)
}

func openStore(cmd *cli.Command) (*domain.Config, domain.ArtifactStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := artifact.New(cfg.Artifacts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening artifact store: %w", err)
	}
	slog.Debug("artifact store opened", "source", cfg.Artifacts.Source)
	return cfg, store, nil
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML || format == "yml" {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
