package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wudi/pdfdump/observability"
)

// Config controls a dump run.
type Config struct {
	// OutDir receives the artifacts. Defaults to the working directory.
	OutDir string
	// ManifestPath, when set, receives one JSON line per artifact.
	ManifestPath string
	// Workers bounds how many objects are rendered and extracted at once.
	// Output order does not depend on it.
	Workers int
	// FailOnDecodeError stops the run at the first stream whose payload
	// cannot be produced.
	FailOnDecodeError bool

	Out    io.Writer
	Logger observability.Logger
	Tracer observability.Tracer
}

// Summary counts what a run did.
type Summary struct {
	Objects         int
	Streams         int
	Decoded         int
	Raw             int
	Skipped         int
	ResolveFailures int
	DecodeFailures  int
	Bytes           int64
	Elapsed         time.Duration
}

// Runner drives the enumerate, render, extract loop over one document.
type Runner struct {
	engine    Engine
	cfg       Config
	renderer  *Renderer
	extractor *Extractor
}

func NewRunner(engine Engine, cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Runner{
		engine:    engine,
		cfg:       cfg,
		renderer:  NewRenderer(engine),
		extractor: NewExtractor(engine, cfg.OutDir, cfg.ManifestPath != ""),
	}
}

// result is the buffered outcome of one stream object.
type result struct {
	num      int
	line     string
	decode   bool
	artifact Artifact
	written  bool
	err      error // object-local decode failure
	fatal    error
}

// Run writes one report line and one artifact per stream object in
// ascending object order.
func (r *Runner) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	ctx, span := r.cfg.Tracer.StartSpan(ctx, "dump.run")
	defer func() {
		sum.Elapsed = time.Since(start)
		if err != nil {
			span.SetError(err)
		}
		span.SetTag("streams", sum.Streams)
		span.Finish()
	}()

	var manifest *Manifest
	if r.cfg.ManifestPath != "" {
		f, ferr := os.Create(r.cfg.ManifestPath)
		if ferr != nil {
			return sum, fmt.Errorf("%w: manifest: %w", ErrArtifact, ferr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("%w: manifest: %w", ErrArtifact, cerr)
			}
		}()
		manifest = NewManifest(f)
	}

	enum := NewEnumerator(r.engine, r.cfg.Logger)
	emit := func(res result) error {
		return r.emit(&sum, manifest, res)
	}
	if r.cfg.Workers == 1 {
		err = r.runSequential(ctx, enum, emit)
	} else {
		err = r.runParallel(ctx, enum, emit)
	}

	sum.Objects, sum.Skipped, sum.ResolveFailures = enum.Stats()
	if err == nil {
		err = ctx.Err()
	}
	r.cfg.Logger.Debug("dump finished",
		observability.Int(observability.MetricObjectCount, sum.Objects),
		observability.Int(observability.MetricStreamCount, sum.Streams),
		observability.Int64(observability.MetricDecodedBytes, sum.Bytes),
		observability.Int("decode_failures", sum.DecodeFailures),
		observability.Int64(observability.MetricRunTime, time.Since(start).Milliseconds()),
	)
	return sum, err
}

func (r *Runner) runSequential(ctx context.Context, enum *Enumerator, emit func(result) error) error {
	for {
		e, ok := enum.Next(ctx)
		if !ok {
			return nil
		}
		if err := emit(r.process(ctx, e)); err != nil {
			return err
		}
	}
}

// runParallel fans objects out to at most Workers goroutines and emits
// results in submission order. At most 2*Workers results are held.
func (r *Runner) runParallel(ctx context.Context, enum *Enumerator, emit func(result) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup
	var pending []chan result
	var firstErr error

	drainHead := func() {
		res := <-pending[0]
		pending = pending[1:]
		if firstErr != nil {
			return
		}
		if err := emit(res); err != nil {
			firstErr = err
			cancel()
		}
	}

	for firstErr == nil {
		e, ok := enum.Next(ctx)
		if !ok {
			break
		}
		slot := make(chan result, 1)
		pending = append(pending, slot)
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				slot <- result{num: e.Num, fatal: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			slot <- r.process(ctx, e)
		}(e)

		for len(pending) >= 2*r.cfg.Workers {
			drainHead()
		}
	}
	for len(pending) > 0 {
		drainHead()
	}
	wg.Wait()
	return firstErr
}

func (r *Runner) process(ctx context.Context, e Entry) result {
	ctx, span := r.cfg.Tracer.StartSpan(ctx, "dump.object")
	defer span.Finish()
	span.SetTag("object", e.Num)

	text, decode := r.renderer.Render(ctx, e.Stream.Dictionary(), true)
	res := result{
		num:    e.Num,
		line:   fmt.Sprintf("    Object %d has stream %s", e.Num, text),
		decode: decode,
	}
	span.SetTag("decode", decode)

	if !decode {
		res.line += " (filter omitted)"
	}
	data, err := r.extractor.Extract(ctx, e.Stream, decode)
	if err != nil {
		span.SetError(err)
		if ctx.Err() != nil {
			res.fatal = ctx.Err()
			return res
		}
		res.line += " (decode failed)"
		res.err = fmt.Errorf("object %d: %w", e.Num, err)
		return res
	}
	a, err := r.extractor.Persist(e.Num, data, decode)
	if err != nil {
		span.SetError(err)
		res.fatal = err
		return res
	}
	res.artifact = a
	res.written = true
	return res
}

func (r *Runner) emit(sum *Summary, manifest *Manifest, res result) error {
	if res.fatal != nil {
		return res.fatal
	}
	sum.Streams++
	if _, err := fmt.Fprintln(r.cfg.Out, res.line); err != nil {
		return err
	}
	if res.err != nil {
		sum.DecodeFailures++
		r.cfg.Logger.Error("stream not extracted",
			observability.Int("object", res.num),
			observability.Error("error", res.err),
		)
		if r.cfg.FailOnDecodeError {
			return res.err
		}
		return nil
	}
	if res.decode {
		sum.Decoded++
	} else {
		sum.Raw++
	}
	sum.Bytes += res.artifact.Size
	if manifest != nil && res.written {
		if err := manifest.Add(res.artifact); err != nil {
			return fmt.Errorf("%w: manifest: %w", ErrArtifact, err)
		}
	}
	return nil
}
