package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/getsentry/lprofile/internal/logutil"
	"github.com/getsentry/lprofile/internal/report"
	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/trace"
)

const (
	formatTable      = "table"
	formatJSON       = "json"
	formatSpeedscope = "speedscope"
	formatPprof      = "pprof"
)

type options struct {
	sort     string
	format   string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "lprofile-replay [flags] <trace file>",
		Short:         "Replay a recorded Lua call trace and print per function timings",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.sort, "sort", "s", "self", "sort functions by self, total, calls or label")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatTable, "output format: table, json, speedscope or pprof")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func run(out io.Writer, path string, opts options) error {
	logutil.ConfigureLogger(logutil.ParseLevel(opts.logLevel))

	by, err := report.ParseBy(opts.sort)
	if err != nil {
		return err
	}
	switch opts.format {
	case formatTable, formatJSON, formatSpeedscope, formatPprof:
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	t, err := readTrace(path)
	if err != nil {
		return err
	}

	logger := log.With().Str("trace", path).Logger()
	res, err := t.Replay(trace.ReplayOptions{
		Logger:         &logger,
		RecordTimeline: opts.format == formatSpeedscope,
	})
	if err != nil {
		if !errors.Is(err, trace.ErrProfiledError) {
			return err
		}
		// the profiled code failed, timings up to the error are still reported
		logger.Warn().Err(err).Msg("trace ended with an error")
	}
	return write(out, res, by, opts.format)
}

// readTrace reads a JSON trace, lz4 compressed when the name ends with .lz4.
// A path of "-" reads from stdin.
func readTrace(path string) (trace.Trace, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return trace.Trace{}, err
		}
		defer f.Close()
		r = f
	}
	if strings.HasSuffix(path, ".lz4") {
		r = lz4.NewReader(r)
	}
	return trace.Decode(r)
}

func write(out io.Writer, res session.Result, by report.By, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Summarize(res, by))
	case formatSpeedscope:
		o, err := report.Speedscope(res)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(o)
	case formatPprof:
		return report.Pprof(res).Write(out)
	default:
		return report.WriteTable(out, report.Summarize(res, by))
	}
}
