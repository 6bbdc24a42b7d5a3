package filters

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/ccitt"

	"github.com/wudi/pdfdump/ir/raw"
)

type ccittFaxDecoder struct{}

func NewCCITTFaxDecoder() Decoder { return ccittFaxDecoder{} }

func (ccittFaxDecoder) Name() string { return "CCITTFaxDecode" }

// Decode expands Group 3 or Group 4 fax data into one bit per pixel, rows
// byte aligned, 1 meaning white unless BlackIs1 is set.
// K < 0 selects Group 4. Rows may be absent, in which case the height is
// detected from the end-of-block marker.
func (ccittFaxDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	columns := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	if columns <= 0 {
		return nil, fmt.Errorf("ccitt: invalid Columns %d", columns)
	}
	sf := ccitt.Group3
	if intParam(params, "K", 0) < 0 {
		sf = ccitt.Group4
	}
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	opts := &ccitt.Options{
		Invert: boolParam(params, "BlackIs1", false),
		Align:  boolParam(params, "EncodedByteAlign", false),
	}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, columns, rows, opts)
	return readAll(ctx, r)
}

type dctDecoder struct{}

func NewDCTDecoder() Decoder { return dctDecoder{} }

func (dctDecoder) Name() string { return "DCTDecode" }

// Decode returns the JPEG pixels as packed RGBA.
func (dctDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	b := img.Bounds()
	if limit := sizeLimit(ctx); limit > 0 && int64(b.Dx())*int64(b.Dy())*4 > limit {
		return nil, ErrSizeLimit
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba.Pix, nil
}

// unsupportedDecoder stands in for filters that need native codecs.
type unsupportedDecoder struct{ name string }

func NewJPXDecoder() Decoder   { return unsupportedDecoder{name: "JPXDecode"} }
func NewJBIG2Decoder() Decoder { return unsupportedDecoder{name: "JBIG2Decode"} }

func (d unsupportedDecoder) Name() string { return d.name }

func (d unsupportedDecoder) Decode(context.Context, []byte, raw.Dictionary) ([]byte, error) {
	return nil, UnsupportedError{Filter: d.name}
}

type cryptDecoder struct{}

func NewCryptDecoder() Decoder { return cryptDecoder{} }

func (cryptDecoder) Name() string { return "Crypt" }

// Decode passes data through for the Identity crypt filter only.
func (cryptDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	name := "Identity"
	if params != nil {
		if v, ok := params.Get("Name"); ok {
			if n, ok := v.(raw.NameObj); ok {
				name = n.Val
			}
		}
	}
	if name != "Identity" {
		return nil, UnsupportedError{Filter: "Crypt/" + name}
	}
	return in, nil
}
