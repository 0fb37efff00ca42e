package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meeting-insight-service/internal/schema"
	"meeting-insight-service/internal/service/records"
	"meeting-insight-service/internal/service/report"
)

func newRenderCommand() *cobra.Command {
	var (
		file   string
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a stored analysis record as a PDF or Word report",
		Long: `Render a meeting_analysis_*.json record without a running service.

The record is validated the same way the download endpoints validate it, so a
record the service cannot render fails here too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			store := records.NewStore(filepath.Dir(file), schema.New())
			name := filepath.Base(file)
			rec, err := store.Load(name)
			if err != nil {
				return fmt.Errorf("load %s: %w", file, err)
			}

			data, err := report.New().Render(f, rec)
			if err != nil {
				return err
			}

			if out == "" {
				out = report.FileName(name, f)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Analysis record to render")
	cmd.Flags().StringVar(&format, "format", "pdf", "Output format: pdf or word")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (defaults to the record name with the format extension)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
