// Package dump walks the indirect objects of a PDF and writes every stream
// payload to its own artifact, decoded unless the header names an image
// codec.
package dump

import (
	"context"
	"errors"

	"github.com/wudi/pdfdump/ir/raw"
)

var (
	ErrInvocation   = errors.New("input file path required")
	ErrDocumentLoad = errors.New("document load failed")
	ErrResolve      = errors.New("object not resolvable")
	ErrDecode       = errors.New("stream decode failed")
	ErrArtifact     = errors.New("artifact write failed")
)

// Resolver loads indirect objects by number.
type Resolver interface {
	Resolve(ctx context.Context, n int) (raw.Object, error)
}

// Engine is the document capability the walker depends on. parser.Document
// implements it.
type Engine interface {
	Resolver
	LastObjectNumber() int
	IsValidObjectNumber(n int) bool
	FilteredBytes(ctx context.Context, st raw.Stream) ([]byte, error)
	RawBytes(ctx context.Context, st raw.Stream) ([]byte, error)
}
