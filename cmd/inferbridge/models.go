package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inferbridge/internal/registry"
	"inferbridge/pkg/types"
)

func newModelsCmd(root *rootOptions) *cobra.Command {
	var (
		dir    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List GGUF models in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("models-dir") {
				cfg.ModelsDir = dir
			}
			cfg = cfg.WithDefaults()
			models, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				return fmt.Errorf("failed to load models: %w", err)
			}
			return printModels(cmd.OutOrStdout(), models, asJSON)
		},
	}
	cmd.Flags().StringVar(&dir, "models-dir", "", "Directory to scan for *.gguf model files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printModels(w io.Writer, models []types.Model, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if models == nil {
			models = []types.Model{}
		}
		return enc.Encode(types.ModelsResponse{Models: models})
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUANT\tPATH")
	for _, m := range models {
		q := m.Quant
		if q == "" {
			q = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, q, m.Path)
	}
	return tw.Flush()
}
