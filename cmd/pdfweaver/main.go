// Package main is the entry point for the pdfweaver CLI: merge PDFs and
// images into one document, or run the merge service with `serve`.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pdfweaver/internal/config"
	"github.com/local/pdfweaver/internal/logger"
	"github.com/local/pdfweaver/internal/metrics"
	"github.com/local/pdfweaver/internal/pdfcheck"
	"github.com/local/pdfweaver/internal/selection"
	"github.com/local/pdfweaver/internal/weaver"
)

// version is set at build time via ldflags.
var version = "dev"

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// app holds state shared by the root command and its subcommands.
type app struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "pdfweaver -i <file> -i <file> [-o output.pdf]",
		Short: "Merge PDF documents and images into a single PDF",
		Long: `pdfweaver concatenates the pages of PDF documents and places PNG/JPEG
images on their own pages, in the order given. Inputs that do not exist are
skipped and reported; the output is written atomically.

Run "pdfweaver serve" to expose the same merge over HTTP with a Redis-backed
job queue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		RunE: a.runMerge,
	}

	cmd.PersistentFlags().String("config", "", "config file (default: ./pdfweaver.yaml)")
	cmd.Flags().StringArrayP("input", "i", nil, "input file, repeat for each file in merge order")
	cmd.Flags().StringP("output", "o", weaver.DefaultOutputName, "output PDF path")
	cmd.Flags().String("dir", "", "append every PDF/PNG/JPEG directly inside this folder, sorted by name")
	cmd.Flags().Bool("verify", false, "re-open the output with MuPDF and check its page count")
	cmd.Flags().Bool("strict", false, "exit with code 2 when inputs were missing or skipped")

	cmd.AddCommand(newServeCmd(a))
	return cmd
}

// setup loads configuration and initializes logging for every command.
func (a *app) setup(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		return err
	}
	a.cfg = cfg

	opts := logger.FromConfig(cfg)
	opts.Console = cmd.ErrOrStderr()
	if err := logger.Init(opts); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if used := config.ConfigFileUsed(file); used != "" {
		log.Debug().Str("file", used).Msg("using config file")
	}
	return nil
}

func (a *app) runMerge(cmd *cobra.Command, args []string) error {
	inputs, _ := cmd.Flags().GetStringArray("input")
	dir, _ := cmd.Flags().GetString("dir")
	strict, _ := cmd.Flags().GetBool("strict")
	verify, _ := cmd.Flags().GetBool("verify")
	out, _ := cmd.Flags().GetString("output")
	if !cmd.Flags().Changed("output") && a.cfg.Merge.Output != "" {
		out = a.cfg.Merge.Output
	}

	list := selection.New(inputs...)
	if dir != "" {
		n, err := list.AddFolder(dir)
		if err != nil {
			return err
		}
		log.Info().Str("dir", dir).Int("files", n).Msg("added folder")
	}
	if list.Len() < 2 {
		_ = cmd.Usage()
		return errors.New("at least two input files are required (-i a.pdf -i b.png)")
	}

	eng, err := weaver.New(weaver.Options{
		PageSize:       a.cfg.Merge.PageSize,
		ImageMargin:    a.cfg.Merge.ImageMargin,
		SkipUnreadable: a.cfg.Merge.SkipUnreadable,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := list.Merge(eng, out)
	metrics.ObserveMerge("cli", res, time.Since(start))
	if res != nil {
		printSkipped(cmd.ErrOrStderr(), res)
	}
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	if verify || a.cfg.Merge.Verify {
		rep, err := pdfcheck.New().Verify(out, res.Pages)
		if err != nil {
			return fmt.Errorf("verify %s: %w", out, err)
		}
		log.Info().Int("pages", rep.TotalPages).Int64("duration_ms", rep.DurationMs).Msg("output verified")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d page(s) into %s\n", res.Pages, res.OutputPath)
	if strict && res.Skipped() {
		return &exitError{code: 2, msg: "some inputs were skipped"}
	}
	return nil
}

func printSkipped(w io.Writer, res *weaver.MergeResult) {
	for _, p := range res.MissingPaths {
		fmt.Fprintf(w, "warning: file not found, skipped: %s\n", p)
	}
	for _, p := range res.UnsupportedPaths {
		fmt.Fprintf(w, "warning: unsupported file type, skipped: %s\n", p)
	}
	for _, p := range res.FailedPaths {
		fmt.Fprintf(w, "warning: unreadable file, skipped: %s\n", p)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
