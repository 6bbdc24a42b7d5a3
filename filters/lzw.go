package filters

import (
	"bytes"
	"context"

	"github.com/hhrutter/lzw"

	"github.com/wudi/pdfdump/ir/raw"
)

type lzwDecoder struct{}

func NewLZWDecoder() Decoder { return lzwDecoder{} }

func (lzwDecoder) Name() string { return "LZWDecode" }

// Decode honours /EarlyChange (default 1) and any predictor in params.
func (lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	early := intParam(params, "EarlyChange", 1)
	r := lzw.NewReader(bytes.NewReader(in), early == 1)
	defer r.Close()
	out, err := readAll(ctx, r)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}
