package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/patternfile"
	"github.com/sells-group/product-patterns/internal/store"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and manage stored patterns",
}

// -- patterns list --

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains with stored patterns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		domains, err := st.ListDomains(ctx)
		if err != nil {
			return eris.Wrap(err, "patterns list")
		}
		if len(domains) == 0 {
			fmt.Fprintln(os.Stderr, "No patterns stored.")
			return nil
		}
		formatDomains(os.Stdout, domains)
		return nil
	},
}

// -- patterns history --

var patternsHistoryCmd = &cobra.Command{
	Use:   "history <domain>",
	Short: "List every stored version for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		patterns, err := st.ListPatterns(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "patterns history")
		}
		if len(patterns) == 0 {
			fmt.Fprintf(os.Stderr, "No patterns stored for %s.\n", args[0])
			return nil
		}
		formatHistory(os.Stdout, patterns)
		return nil
	},
}

// -- patterns show --

var patternsShowCmd = &cobra.Command{
	Use:   "show <domain>",
	Short: "Print a stored pattern as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		version, _ := cmd.Flags().GetInt("version")
		out, _ := cmd.Flags().GetString("out")

		p, err := loadPattern(ctx, "", args[0], version)
		if err != nil {
			return eris.Wrap(err, "patterns show")
		}
		if out != "" {
			return patternfile.WriteFile(out, p)
		}
		return patternfile.Encode(os.Stdout, p)
	},
}

// -- patterns import --

var patternsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a hand-edited pattern file as the domain's next version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := patternfile.ReadFile(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if latest, err := st.LatestPattern(ctx, p.Domain); err == nil {
			p.ParentVersion = latest.Version
		}
		saved, err := st.SavePattern(ctx, p)
		if err != nil {
			return eris.Wrap(err, "patterns import")
		}
		fmt.Fprintf(os.Stdout, "stored %s version %d (%d rules)\n", saved.Domain, saved.Version, saved.RuleCount())
		return nil
	},
}

func init() {
	patternsShowCmd.Flags().Int("version", 0, "pattern version (default latest)")
	patternsShowCmd.Flags().String("out", "", "write to this file instead of stdout")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsHistoryCmd)
	patternsCmd.AddCommand(patternsShowCmd)
	patternsCmd.AddCommand(patternsImportCmd)
	rootCmd.AddCommand(patternsCmd)
}

// formatDomains writes a tabular list of stored domains to out.
func formatDomains(out io.Writer, domains []store.DomainSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tLATEST\tVERSIONS\tUPDATED")
	for _, d := range domains {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.Domain, d.LatestVersion, d.Versions, d.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// formatHistory writes one row per pattern version.
func formatHistory(out io.Writer, patterns []model.Pattern) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tPARENT\tRULES\tCOMPLETE\tCREATED")
	for i := range patterns {
		p := &patterns[i]
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%s\n", p.Version, p.ParentVersion, p.RuleCount(), p.Complete(), p.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
