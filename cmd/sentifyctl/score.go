package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/schema"
	"github.com/opensource-finance/sentify/internal/scoring"
)

var scoreCmd = &cli.Command{
	Name:      "score",
	Usage:     "Score a JSON customer record with the stored artifacts, without a server",
	ArgsUsage: "<file|->",
	Action:    cmdScore,
}

// scoreResult is the offline view of one assessment.
type scoreResult struct {
	domain.RiskAssessment `yaml:",inline"`
	Fallback              bool   `json:"fallback" yaml:"fallback"`
	Reason                string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error                 string `json:"error,omitempty" yaml:"error,omitempty"`
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	src := cmd.Args().First()
	if src == "" {
		src = "-"
	}

	data, err := readInput(src, cmd.Root().Reader)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	raw, err := decodeRecord(data)
	if err != nil {
		return err
	}

	cfg, store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	features, err := schema.Load(ctx, store, cfg.Artifacts.SchemaName)
	if err != nil {
		return err
	}
	adapter, err := model.Load(ctx, store, cfg.Artifacts.ModelName, features)
	if err != nil {
		slog.Warn("model not loaded, scoring with the fallback", "error", err)
	}
	adapter.Timeout = cfg.Scoring.InferenceTimeout()

	svc := scoring.NewService(features, adapter, scoring.WithDefaultValue(cfg.Scoring.DefaultValue),
		scoring.WithEnvelope(cfg.Scoring.UnwrapEnvelope),
	)
	assessment, outcome := svc.Assess(ctx, raw)

	res := scoreResult{
		RiskAssessment: assessment,
		Fallback:       outcome.Fallback,
		Reason:         outcome.Reason,
	}
	if outcome.Err != nil {
		res.Error = outcome.Err.Error()
	}
	return encode(cmd.Root().Writer, cmd.String(formatFlag.Name), res)
}

func decodeRecord(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("record must be a single JSON object")
	}
	return raw, nil
}
