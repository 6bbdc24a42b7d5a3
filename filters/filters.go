package filters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wudi/pdfdump/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

// UnsupportedError reports a filter the pipeline knows about but cannot reverse.
type UnsupportedError struct {
	Filter string
}

func (e UnsupportedError) Error() string { return "unsupported filter: " + e.Filter }

// ErrSizeLimit is returned when a decode would exceed Limits.MaxDecompressedSize.
var ErrSizeLimit = errors.New("decompressed size exceeds limit")

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder, len(decoders)), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// DefaultDecoders returns every decoder this package implements.
func DefaultDecoders() []Decoder {
	return []Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
		NewDCTDecoder(),
		NewJPXDecoder(),
		NewJBIG2Decoder(),
		NewCryptDecoder(),
	}
}

// NewDefaultPipeline is NewPipeline(DefaultDecoders(), limits).
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(DefaultDecoders(), limits)
}

// abbreviations maps the inline-image short names onto the full filter names.
var abbreviations = map[string]string{
	"AHx": "ASCIIHexDecode",
	"A85": "ASCII85Decode",
	"LZW": "LZWDecode",
	"Fl":  "FlateDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
	"DCT": "DCTDecode",
}

// CanonicalName expands abbreviated filter names.
func CanonicalName(name string) string {
	if full, ok := abbreviations[name]; ok {
		return full
	}
	return name
}

func (p *Pipeline) findDecoder(name string) Decoder {
	return p.decoders[CanonicalName(name)]
}

// Decode applies filterNames in order. params[i] belongs to filterNames[i];
// missing or nil entries mean default parameters.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	ctx = withSizeLimit(ctx, p.limits.MaxDecompressedSize)
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, fmt.Errorf("unknown filter: %s", name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dec.Name(), err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, fmt.Errorf("%s: %w", dec.Name(), ErrSizeLimit)
		}
		data = out
	}
	return data, nil
}

type sizeLimitKey struct{}

func withSizeLimit(ctx context.Context, n int64) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, sizeLimitKey{}, n)
}

func sizeLimit(ctx context.Context) int64 {
	if n, ok := ctx.Value(sizeLimitKey{}).(int64); ok {
		return n
	}
	return 0
}

// readAll drains r in chunks, honouring cancellation and the size limit
// carried by ctx.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	limit := sizeLimit(ctx)
	buf := make([]byte, 0, 32*1024)
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if limit > 0 && int64(len(buf)) > limit {
			return nil, ErrSizeLimit
		}
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
	}
}
