package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/sentify/internal/artifact"
	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/schema"
)

var (
	noValidateFlag = &cli.BoolFlag{
		Name:  "no-validate",
		Usage: "Store the artifact without checking it decodes",
	}

	artifactsCmd = &cli.Command{
		Name:    "artifacts",
		Aliases: []string{"a"},
		Usage:   "Manage the feature schema and model artifacts",
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Create or replace an artifact from a file",
				ArgsUsage: "<name> <file|->",
				Flags:     []cli.Flag{noValidateFlag},
				Action:    cmdArtifactPut,
			},
			{
				Name:      "get",
				Usage:     "Write an artifact's content to stdout",
				ArgsUsage: "<name>",
				Action:    cmdArtifactGet,
			},
			{
				Name:   "list",
				Usage:  "List stored artifacts",
				Action: cmdArtifactList,
			},
		},
	}
)

func cmdArtifactPut(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return cli.ShowSubcommandHelp(cmd)
	}
	name, src := cmd.Args().Get(0), cmd.Args().Get(1)

	content, err := readInput(src, cmd.Root().Reader)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	cfg, store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if !cmd.Bool(noValidateFlag.Name) {
		if err := validateArtifact(ctx, store, cfg.Artifacts, name, content); err != nil {
			return err
		}
	}

	if err := store.Put(ctx, name, content); err != nil {
		return fmt.Errorf("storing artifact %s: %w", name, err)
	}

	info := domain.ArtifactInfo{
		Name:     name,
		Size:     len(content),
		Checksum: artifact.Checksum(content),
	}
	return encode(cmd.Root().Writer, cmd.String(formatFlag.Name), info)
}

func cmdArtifactGet(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return cli.ShowSubcommandHelp(cmd)
	}
	name := cmd.Args().First()

	_, store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	content, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("reading artifact %s: %w", name, err)
	}
	_, err = cmd.Root().Writer.Write(content)
	return err
}

func cmdArtifactList(ctx context.Context, cmd *cli.Command) error {
	_, store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing artifacts: %w", err)
	}
	return encode(cmd.Root().Writer, cmd.String(formatFlag.Name), list)
}

// validateArtifact rejects a schema that does not parse, or a model that does
// not decode against the schema currently stored.
func validateArtifact(ctx context.Context, store domain.ArtifactReader, cfg domain.ArtifactConfig, name string, content []byte) error {
	switch name {
	case cfg.SchemaName:
		if _, err := schema.Parse(content); err != nil {
			return fmt.Errorf("invalid schema artifact: %w", err)
		}
	case cfg.ModelName:
		features, err := schema.Load(ctx, store, cfg.SchemaName)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return fmt.Errorf("store the schema artifact %s before the model", cfg.SchemaName)
			}
			return err
		}
		if _, _, err := model.Decode(content, features); err != nil {
			return fmt.Errorf("invalid model artifact: %w", err)
		}
	}
	return nil
}

func readInput(src string, stdin io.Reader) ([]byte, error) {
	if src == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(src)
}
