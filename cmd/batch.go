package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-patterns/internal/pipeline"
)

var batchCmd = &cobra.Command{
	Use:   "batch <url-file>",
	Short: "Generate patterns for a list of sample URLs",
	Long:  "Reads one sample URL per line (blank lines and # comments are ignored) and runs generation for each with bounded concurrency.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}
		noSave, _ := cmd.Flags().GetBool("no-save")

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "batch: open url file")
		}
		defer f.Close() //nolint:errcheck

		urls, err := readURLList(f)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			fmt.Fprintln(os.Stderr, "No URLs found.")
			return nil
		}

		env, err := initRunner(ctx, !noSave)
		if err != nil {
			return err
		}
		defer env.Close()

		reqs := make([]pipeline.Request, len(urls))
		for i, u := range urls {
			reqs[i] = pipeline.Request{URL: u}
		}
		results := env.Runner.GenerateAll(ctx, reqs, concurrency)

		formatBatch(os.Stdout, results)
		sum := pipeline.Summarize(results)
		fmt.Fprintf(os.Stdout, "\n%d total, %d accepted, %d exhausted, %d blocked, %d failed\n",
			sum.Total, sum.Accepted, sum.Exhausted, sum.Blocked, sum.Failed)
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "batch: interrupted")
		}
		return nil
	},
}

// readURLList reads one URL per line, skipping blanks and # comments.
func readURLList(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: read url file")
	}
	return urls, nil
}

// formatBatch writes one row per result.
func formatBatch(out io.Writer, results []*pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tDOMAIN\tVERSION\tITERATIONS\tURL")
	for _, r := range results {
		if r == nil {
			continue
		}
		version, iterations := "-", "-"
		if r.Saved != nil {
			version = fmt.Sprint(r.Saved.Version)
		}
		if r.Outcome != nil {
			iterations = fmt.Sprint(r.Outcome.Iterations)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Status, orDash(r.Domain), version, iterations, r.URL)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	batchCmd.Flags().Int("concurrency", 0, "parallel generations (default from config)")
	batchCmd.Flags().Bool("no-save", false, "do not store accepted patterns")
	rootCmd.AddCommand(batchCmd)
}
