package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvcrn/studio-bridge/internal/app"
	"github.com/dvcrn/studio-bridge/internal/output"
)

var (
	exportReq      output.Request
	exportDocument string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Generate an output file from a document",
	Long: `Submit an output job for the current document and wait for the result.

Without an engine URL the document is read from --document.

Examples:
  studio-bridge export --format pdf --layout l1 --project p1 --document doc.json
  studio-bridge export --format png --layout l1 --template t1 --out cover.png`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportReq.Format, "format", "pdf", "output format (pdf, png, jpg, gif, mp4, html)")
	f.StringVar(&exportReq.LayoutID, "layout", "", "layout id")
	f.StringVar(&exportReq.ProjectID, "project", "", "project id")
	f.StringVar(&exportReq.TemplateID, "template", "", "template id")
	f.StringVar(&exportReq.OutputSettingsID, "output-settings", "", "output settings id")
	f.StringVar(&exportDocument, "document", "", "document snapshot JSON (when no engine is connected)")
	f.StringVarP(&exportOut, "out", "o", "", "output file (default output.<ext>)")
	_ = exportCmd.MarkFlagRequired("layout")
	exportCmd.MarkFlagsMutuallyExclusive("project", "template")
	exportCmd.MarkFlagsOneRequired("project", "template")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportDocument != "" {
		cfg.Engine.DocumentPath = exportDocument
	}

	source, err := openSource()
	if err != nil {
		return err
	}
	progress := output.WithTransitionHook(func(job output.Job, from, to output.State) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s -> %s\n", job.ID, from, to)
	})
	a, err := app.New(cmd.Context(), cfg, source, log, app.WithOutputOptions(progress))
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Outputs.Generate(cmd.Context(), exportReq)
	if err != nil {
		var je *output.JobError
		if errors.As(err, &je) {
			return fmt.Errorf("output generation failed with status %d: %s", je.Status, je.Message)
		}
		return err
	}

	path := exportOut
	if path == "" {
		path = "output." + out.ExtensionType
	}
	if err := os.WriteFile(path, out.OutputData, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes, %s)\n", path, len(out.OutputData), out.ContentType)
	return nil
}
