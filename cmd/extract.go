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
	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/patternfile"
	"github.com/sells-group/product-patterns/internal/validate"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run a pattern against one product page",
	Long:  "Extracts every field from a page with a pattern file or a stored pattern and prints the report with the validation verdict. Nothing is drafted or saved.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		targetURL, _ := cmd.Flags().GetString("url")
		htmlFile, _ := cmd.Flags().GetString("html-file")
		patternPath, _ := cmd.Flags().GetString("pattern")
		domain, _ := cmd.Flags().GetString("domain")
		version, _ := cmd.Flags().GetInt("version")
		asJSON, _ := cmd.Flags().GetBool("json")

		p, err := loadPattern(ctx, patternPath, domain, version)
		if err != nil {
			return err
		}

		var acq *acquire.Result
		switch {
		case htmlFile != "":
			acq = (&acquire.FileFetcher{MaxBodyBytes: cfg.Fetch.MaxBodyBytes}).Fetch(ctx, htmlFile)
		case targetURL != "":
			acq = initFetcher(cfg).Fetch(ctx, targetURL)
		default:
			return eris.New("extract: --url or --html-file is required")
		}
		if !acq.OK() {
			return acq.Error()
		}
		if targetURL == "" {
			targetURL = acq.URL
		}

		report, err := extract.New().ExtractHTML(acq.HTML, targetURL, p)
		if err != nil {
			return err
		}
		verdict := validate.Validate(report, cfg.ValidationPolicy())

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Report  *model.Report  `json:"report"`
				Verdict *model.Verdict `json:"verdict"`
			}{report, verdict})
		}
		formatReport(os.Stdout, report, verdict)
		return nil
	},
}

// loadPattern reads a pattern file, or the stored pattern for domain
// (latest when version is 0).
func loadPattern(ctx context.Context, path, domain string, version int) (*model.Pattern, error) {
	if path != "" {
		return patternfile.ReadFile(path)
	}
	if domain == "" {
		return nil, eris.New("extract: --pattern or --domain is required")
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck
	if version > 0 {
		return st.GetPattern(ctx, domain, version)
	}
	return st.LatestPattern(ctx, domain)
}

// formatReport writes per-field values and the verdict.
func formatReport(w io.Writer, report *model.Report, verdict *model.Verdict) {
	_, _ = fmt.Fprintf(w, "%s (pattern v%d)\n", report.Domain, report.PatternVersion)
	for _, f := range model.AllFields() {
		r := report.Result(f)
		if !r.Present() {
			_, _ = fmt.Fprintf(w, "  %-15s -  (%d rules tried)\n", f, len(r.Attempts))
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-15s %s  (%.2f, %s %s)\n", f, r.Value, r.Confidence, r.Source.Kind, r.Source.Locator)
	}
	state := "FAILED"
	if verdict.Passed {
		state = "PASSED"
	}
	_, _ = fmt.Fprintf(w, "verdict: %s  success rate %.2f\n", state, verdict.OverallSuccessRate)
	for _, d := range verdict.Diagnostics {
		_, _ = fmt.Fprintf(w, "  ! %s\n", d)
	}
}

func init() {
	extractCmd.Flags().String("url", "", "product page URL")
	extractCmd.Flags().String("html-file", "", "read the page from a saved HTML file")
	extractCmd.Flags().String("pattern", "", "pattern YAML file")
	extractCmd.Flags().String("domain", "", "use the stored pattern for this domain")
	extractCmd.Flags().Int("version", 0, "stored pattern version (default latest)")
	extractCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(extractCmd)
}
