package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/shiftflow/pkg/engine"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("invalid workflow documents")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow JSON documents without registering them",
		ArgsUsage: "<file.json>...",
		Action: func(_ context.Context, command *cli.Command) error {
			files := command.Args().Slice()
			if len(files) == 0 {
				return errors.New("at least one workflow file is required")
			}

			return validateFiles(command.Root().Writer, files)
		},
	}
}

// validateFiles reports each file on w and fails when any of them is invalid.
func validateFiles(w io.Writer, files []string) error {
	invalid := 0

	for _, path := range files {
		err := validateFile(path)
		if err != nil {
			invalid++

			_, _ = fmt.Fprintf(w, "%s: %v\n", path, err)

			continue
		}

		_, _ = fmt.Fprintf(w, "%s: ok\n", path)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(files))
	}

	return nil
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	workflow, err := models.ValidateWorkflowDocument(data)
	if err != nil {
		return err
	}

	return engine.Validate(workflow)
}
