package dump

import (
	"context"
	"fmt"

	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/observability"
)

// Entry is one stream object produced by an Enumerator.
type Entry struct {
	Num    int
	Stream raw.Stream
}

// Enumerator yields the stream objects of a document in ascending object
// number order. It is forward-only: once exhausted it stays exhausted.
type Enumerator struct {
	engine Engine
	logger observability.Logger
	next   int
	last   int
	done   bool

	scanned  int
	skipped  int
	failures int
}

func NewEnumerator(engine Engine, logger observability.Logger) *Enumerator {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Enumerator{
		engine: engine,
		logger: logger,
		next:   1,
		last:   engine.LastObjectNumber(),
	}
}

// Next returns the next stream object. Invalid numbers, resolution failures
// and non-stream objects are skipped. It returns false when the object space
// is exhausted or ctx is done.
func (e *Enumerator) Next(ctx context.Context) (Entry, bool) {
	for !e.done {
		if ctx.Err() != nil {
			e.done = true
			break
		}
		if e.next > e.last {
			e.done = true
			break
		}
		n := e.next
		e.next++
		e.scanned++

		if !e.engine.IsValidObjectNumber(n) {
			e.skipped++
			continue
		}
		obj, err := e.engine.Resolve(ctx, n)
		if err != nil {
			e.failures++
			e.logger.Debug("skipping object",
				observability.Int("object", n),
				observability.Error("error", fmt.Errorf("%w: %w", ErrResolve, err)),
			)
			continue
		}
		st, ok := obj.(raw.Stream)
		if !ok || st == nil {
			e.skipped++
			continue
		}
		return Entry{Num: n, Stream: st}, true
	}
	return Entry{}, false
}

// Stats reports how many object numbers were visited, how many were skipped
// as invalid or non-stream, and how many failed to resolve.
func (e *Enumerator) Stats() (scanned, skipped, failures int) {
	return e.scanned, e.skipped, e.failures
}
