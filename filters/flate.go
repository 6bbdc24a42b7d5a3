package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfdump/ir/raw"
)

type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

// Decode inflates zlib data. Streams written without the zlib header, or
// with a damaged one, are retried as raw deflate. A zlib stream cut short,
// most often one missing its Adler-32 trailer, yields what was inflated
// before the cut.
func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	out, err := inflateZlib(ctx, in)
	if err != nil {
		rawOut, rawErr := inflateRaw(ctx, in)
		switch {
		case rawErr == nil:
			out = rawOut
		case truncated(out, err):
		default:
			return nil, err
		}
	}
	return applyPredictor(out, params)
}

func truncated(out []byte, err error) bool {
	return len(out) > 0 && errors.Is(err, io.ErrUnexpectedEOF)
}

func inflateZlib(ctx context.Context, in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer r.Close()
	return readAll(ctx, r)
}

func inflateRaw(ctx context.Context, in []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(in))
	defer r.Close()
	return readAll(ctx, r)
}

// applyPredictor reverses TIFF (2) and PNG (10-15) predictors. Predictor 1
// or an absent entry leaves the data untouched.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	switch {
	case predictor <= 1:
		return data, nil
	case predictor == 2:
		return tiffPredictor(data, params)
	case predictor >= 10 && predictor <= 15:
		return pngPredictor(data, params)
	default:
		return nil, fmt.Errorf("unsupported predictor: %d", predictor)
	}
}

type predictorShape struct {
	colors, bpc, columns int
}

func shapeOf(params raw.Dictionary) (predictorShape, error) {
	s := predictorShape{
		colors:  intParam(params, "Colors", 1),
		bpc:     intParam(params, "BitsPerComponent", 8),
		columns: intParam(params, "Columns", 1),
	}
	if s.colors < 1 || s.columns < 1 {
		return s, fmt.Errorf("invalid predictor shape colors=%d columns=%d", s.colors, s.columns)
	}
	switch s.bpc {
	case 1, 2, 4, 8, 16:
	default:
		return s, fmt.Errorf("invalid BitsPerComponent %d", s.bpc)
	}
	return s, nil
}

func (s predictorShape) rowBytes() int { return (s.colors*s.bpc*s.columns + 7) / 8 }

// pixelBytes is the PNG "bpp" distance, at least one byte.
func (s predictorShape) pixelBytes() int {
	n := (s.colors*s.bpc + 7) / 8
	if n < 1 {
		return 1
	}
	return n
}

func pngPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	shape, err := shapeOf(params)
	if err != nil {
		return nil, err
	}
	rowLen := shape.rowBytes()
	bpp := shape.pixelBytes()
	stride := rowLen + 1
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		line := data[r*stride : (r+1)*stride]
		tag := line[0]
		copy(cur, line[1:])
		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch tag {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("row %d: unknown PNG filter type %d", r, tag)
			}
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	// A trailing partial row is kept undecoded rather than dropped.
	if rem := len(data) % stride; rem > 1 {
		out = append(out, data[len(data)-rem+1:]...)
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := absInt(p-int(a)), absInt(p-int(b)), absInt(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func tiffPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	shape, err := shapeOf(params)
	if err != nil {
		return nil, err
	}
	if shape.bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor supports 8 bits per component, got %d", shape.bpc)
	}
	rowLen := shape.rowBytes()
	out := make([]byte, len(data))
	copy(out, data)
	for start := 0; start+rowLen <= len(out); start += rowLen {
		row := out[start : start+rowLen]
		for i := shape.colors; i < rowLen; i++ {
			row[i] += row[i-shape.colors]
		}
	}
	return out, nil
}
