// Command pdfdump writes the payload of every stream object in a PDF to its
// own file, decoded unless the stream is an image codec.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/wudi/pdfdump/dump"
	"github.com/wudi/pdfdump/observability"
	"github.com/wudi/pdfdump/parser"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/security"
)

var _ dump.Engine = (*parser.Document)(nil)

type options struct {
	pdfPath           string
	outDir            string
	manifest          string
	workers           int
	failOnDecodeError bool
	strict            bool
	verbose           bool
	maxDecompressed   int64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, dump.ErrInvocation) {
			fmt.Fprintln(stdout, dump.ErrInvocation.Error())
		}
		return 1
	}
	if err := run(ctx, opts, stdout, stderr); err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "\nExecution time: %g sec.\n", time.Since(start).Seconds())
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pdfdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfdump [flags] <input-path>\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.outDir, "out", ".", "Directory for pdf_NNNN_0.dat artifacts")
	fs.StringVar(&opts.manifest, "manifest", "", "Write a JSON-lines manifest of artifacts to this file")
	fs.IntVar(&opts.workers, "workers", 1, "Objects rendered and extracted concurrently")
	fs.BoolVar(&opts.failOnDecodeError, "fail-on-decode-error", false, "Stop at the first stream that cannot be decoded")
	fs.BoolVar(&opts.strict, "strict", false, "Fail on malformed structure instead of repairing it")
	fs.BoolVar(&opts.verbose, "v", false, "Debug logging on stderr")
	fs.Int64Var(&opts.maxDecompressed, "max-decompressed", security.DefaultLimits().MaxDecompressedSize, "Maximum decoded size of one stream in bytes")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		return options{}, dump.ErrInvocation
	}
	opts.pdfPath = fs.Arg(0)
	return opts, nil
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	logger := observability.NewSlogLogger(stderr, opts.verbose)
	tracer := observability.NopTracer()
	if opts.verbose {
		tracer = observability.NewLogTracer(logger)
	}
	fmt.Fprintf(stdout, "Parsing file '%s':\n", opts.pdfPath)

	var rec recovery.Strategy = recovery.NewLenientStrategy().WithLogger(logger)
	if opts.strict {
		rec = recovery.NewStrictStrategy()
	}
	limits := security.DefaultLimits()
	limits.MaxDecompressedSize = opts.maxDecompressed

	parseStart := time.Now()
	doc, err := parser.Open(ctx, opts.pdfPath, parser.Config{
		Recovery: rec,
		Limits:   limits,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintln(stdout, "Parse error")
		err = fmt.Errorf("%w: %w", dump.ErrDocumentLoad, err)
		logger.Error("load failed", observability.String("path", opts.pdfPath), observability.Error("error", err))
		return err
	}
	defer doc.Close()
	logger.Debug("document loaded",
		observability.String("xref", doc.XRefType()),
		observability.Int("last_object", doc.LastObjectNumber()),
		observability.Int64(observability.MetricParseTime, time.Since(parseStart).Milliseconds()),
	)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		err = fmt.Errorf("%w: %w", dump.ErrArtifact, err)
		logger.Error("output directory unusable", observability.Error("error", err))
		return err
	}

	runner := dump.NewRunner(doc, dump.Config{
		OutDir:            opts.outDir,
		ManifestPath:      opts.manifest,
		Workers:           opts.workers,
		FailOnDecodeError: opts.failOnDecodeError,
		Out:               stdout,
		Logger:            logger,
		Tracer:            tracer,
	})
	sum, err := runner.Run(ctx)
	if err != nil {
		logger.Error("dump aborted", observability.Error("error", err))
		return err
	}
	logger.Debug("dump summary",
		observability.Int("objects", sum.Objects),
		observability.Int("streams", sum.Streams),
		observability.Int("decoded", sum.Decoded),
		observability.Int("raw", sum.Raw),
		observability.Int("skipped", sum.Skipped),
		observability.Int("resolve_failures", sum.ResolveFailures),
		observability.Int("decode_failures", sum.DecodeFailures),
		observability.Int64("bytes", sum.Bytes),
	)
	return nil
}
