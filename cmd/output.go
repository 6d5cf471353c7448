package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"marketbot/internal/errs"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputTable, "Output format (table|json|yaml)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	raw, _ := cmd.Flags().GetString("output")
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case "", outputTable:
		return outputTable, nil
	case outputJSON, outputYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", raw)
	}
}

func writeStructured(w io.Writer, format string, value any) error {
	switch format {
	case outputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return errs.Wrap(err, "encode json output")
		}
	case outputYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return errs.Wrap(err, "encode yaml output")
		}
		if err := encoder.Close(); err != nil {
			return errs.Wrap(err, "flush yaml output")
		}
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	return nil
}
