package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/patternfile"
	"github.com/sells-group/product-patterns/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a pattern from one sample product page",
	Long:  "Fetches the sample page (or reads it from --html-file), drafts and validates rules until the pattern passes, then stores it as the domain's next version.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		targetURL, _ := cmd.Flags().GetString("url")
		htmlFile, _ := cmd.Flags().GetString("html-file")
		domain, _ := cmd.Flags().GetString("domain")
		seedFile, _ := cmd.Flags().GetString("seed")
		noSave, _ := cmd.Flags().GetBool("no-save")
		out, _ := cmd.Flags().GetString("out")
		asJSON, _ := cmd.Flags().GetBool("json")

		req, err := buildRequest(ctx, targetURL, htmlFile, domain, seedFile)
		if err != nil {
			return err
		}

		env, err := initRunner(ctx, !noSave)
		if err != nil {
			return err
		}
		defer env.Close()

		res, genErr := env.Runner.Generate(ctx, req)
		if res != nil {
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return eris.Wrap(err, "generate: encode result")
				}
			} else {
				formatResult(os.Stdout, res)
			}
			if out != "" && res.Outcome != nil && res.Outcome.Pattern != nil {
				p := res.Outcome.Pattern
				if res.Saved != nil {
					p = res.Saved
				}
				if err := patternfile.WriteFile(out, p); err != nil {
					return err
				}
			}
		}
		if genErr != nil {
			return genErr
		}
		if res.Status != model.RunStatusAccepted {
			return eris.Errorf("generate: %s not accepted: %s", res.Domain, res.Status)
		}
		return nil
	},
}

// buildRequest turns command flags into a pipeline request. A page read
// from disk is still checked for block markers.
func buildRequest(ctx context.Context, targetURL, htmlFile, domain, seedFile string) (pipeline.Request, error) {
	req := pipeline.Request{URL: targetURL, Domain: domain}
	if targetURL == "" && htmlFile == "" {
		return req, eris.New("generate: --url or --html-file is required")
	}
	if htmlFile != "" {
		ff := &acquire.FileFetcher{MaxBodyBytes: cfg.Fetch.MaxBodyBytes}
		acq := ff.Fetch(ctx, htmlFile)
		if !acq.OK() {
			return req, acq.Error()
		}
		req.HTML = acq.HTML
		if req.URL == "" {
			req.URL = "file://" + htmlFile
		}
	}
	if seedFile != "" {
		seed, err := patternfile.ReadFile(seedFile)
		if err != nil {
			return req, err
		}
		req.Seed = seed
	}
	return req, nil
}

// formatResult writes a human-readable summary of one run.
func formatResult(w io.Writer, res *pipeline.Result) {
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n", res.Status, res.Domain, res.URL)
	if o := res.Outcome; o != nil {
		_, _ = fmt.Fprintf(w, "  reason: %s  iterations: %d\n", o.Reason, o.Iterations)
		if o.Verdict != nil {
			_, _ = fmt.Fprintf(w, "  success rate: %.2f\n", o.Verdict.OverallSuccessRate)
		}
		if o.Report != nil {
			for _, f := range model.AllFields() {
				r := o.Report.Result(f)
				if !r.Present() {
					_, _ = fmt.Fprintf(w, "  %-15s -\n", f)
					continue
				}
				_, _ = fmt.Fprintf(w, "  %-15s %s (%.2f via %s)\n", f, r.Value, r.Confidence, r.Source.Kind)
			}
		}
		for _, d := range o.Diagnostics {
			_, _ = fmt.Fprintf(w, "  ! %s\n", d)
		}
	}
	if res.Saved != nil {
		_, _ = fmt.Fprintf(w, "  saved version %d\n", res.Saved.Version)
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "  error: %s\n", res.Error)
	}
}

func init() {
	generateCmd.Flags().String("url", "", "sample product page URL")
	generateCmd.Flags().String("html-file", "", "read the sample page from a saved HTML file")
	generateCmd.Flags().String("domain", "", "override the domain derived from the URL")
	generateCmd.Flags().String("seed", "", "start from this pattern file instead of the stored version")
	generateCmd.Flags().Bool("no-save", false, "do not store the accepted pattern")
	generateCmd.Flags().String("out", "", "also write the resulting pattern to this YAML file")
	generateCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(generateCmd)
}
