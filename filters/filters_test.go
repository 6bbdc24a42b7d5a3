package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/wudi/pdfdump/ir/raw"
)

func TestFlateDecode(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("hello world"))
	w.Close()

	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	var comp bytes.Buffer
	w, _ := flate.NewWriter(&comp, flate.BestSpeed)
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	w.Write([]byte{1, 10, 12, 20})
	w.Close()

	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Colors", raw.NumberInt(1))
	params.Set("BitsPerComponent", raw.NumberInt(8))
	params.Set("Columns", raw.NumberInt(3))

	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), comp.Bytes(), params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestLZWDecode(t *testing.T) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	input := []byte("hello hello hello")
	if _, err := w.Write(input); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	dec := NewLZWDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLZWDecodeWithPredictor(t *testing.T) {
	// Single PNG row with filter None: [0,1,2,3]
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	w.Write([]byte{0, 1, 2, 3})
	w.Close()

	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Colors", raw.NumberInt(1))
	params.Set("BitsPerComponent", raw.NumberInt(8))
	params.Set("Columns", raw.NumberInt(3))

	dec := NewLZWDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255 => count=2), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	dec := NewRunLengthDecoder()
	out, err := dec.Decode(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hi!AA" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	dec := NewASCII85Decoder()
	out, err := dec.Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "Hello, World!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	dec := NewASCIIHexDecoder()
	out, err := dec.Decode(context.Background(), []byte("68656c6c6f20776f726c64>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDCTDecode(t *testing.T) {
	jpegData := sampleJPEG(t)
	dec := NewDCTDecoder()
	out, err := dec.Decode(context.Background(), jpegData, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(out) != 2*1*4 {
		t.Fatalf("unexpected pixel size: %d", len(out))
	}
	// Ensure the decoded pixels are non-zero and differ, indicating decode happened.
	if out[0] == 0 && out[1] == 0 && out[2] == 0 {
		t.Fatalf("first pixel unexpectedly zero: %v", out[:4])
	}
	if bytes.Equal(out[:4], out[4:8]) {
		t.Fatalf("expected differing pixels, got %v and %v", out[:4], out[4:8])
	}
}

func TestPipelineDecodeDCT(t *testing.T) {
	jpegData := sampleJPEG(t)
	p := NewPipeline([]Decoder{NewDCTDecoder()}, Limits{})
	out, err := p.Decode(context.Background(), jpegData, []string{"DCTDecode"}, nil)
	if err != nil {
		t.Fatalf("pipeline decode error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("pipeline decode produced empty data")
	}
}

func TestUnsupportedFilters(t *testing.T) {
	fp := NewPipeline([]Decoder{NewJPXDecoder()}, Limits{})
	_, err := fp.Decode(context.Background(), []byte{0x00}, []string{"JPXDecode"}, nil)
	var ue UnsupportedError
	if err == nil || !errors.As(err, &ue) || ue.Filter != "JPXDecode" {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestFlateDecodeZlib(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte("zlib framed"))
	w.Close()

	out, err := NewFlateDecoder().Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "zlib framed" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeMissingChecksum(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte("BT (Hello) Tj ET"))
	w.Close()
	cut := buf.Bytes()[:buf.Len()-4]

	out, err := NewFlateDecoder().Decode(context.Background(), cut, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "BT (Hello) Tj ET" {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = NewDefaultPipeline(Limits{}).Decode(context.Background(), cut, []string{"Fl"}, nil)
	if err != nil || string(out) != "BT (Hello) Tj ET" {
		t.Fatalf("pipeline: %q, %v", out, err)
	}
}

func TestFlateDecodeHeaderOnly(t *testing.T) {
	if _, err := NewFlateDecoder().Decode(context.Background(), []byte{0x78, 0x9c}, nil); err == nil {
		t.Fatalf("expected error for a stream with no deflate data")
	}
}

func TestFlateDecodeGarbage(t *testing.T) {
	_, err := NewFlateDecoder().Decode(context.Background(), []byte{0xff, 0xfe, 0xfd, 0xfc}, nil)
	if err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestTIFFPredictor(t *testing.T) {
	params := raw.DictOf(
		raw.KV("Predictor", raw.NumberInt(2)),
		raw.KV("Colors", raw.NumberInt(1)),
		raw.KV("Columns", raw.NumberInt(3)),
	)
	out, err := applyPredictor([]byte{5, 1, 1, 7, 2, 2}, params)
	if err != nil {
		t.Fatalf("predictor error: %v", err)
	}
	if !bytes.Equal(out, []byte{5, 6, 7, 7, 9, 11}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestPNGPredictorUpAcrossRows(t *testing.T) {
	params := raw.DictOf(
		raw.KV("Predictor", raw.NumberInt(15)),
		raw.KV("Columns", raw.NumberInt(2)),
	)
	data := []byte{0, 3, 4, 2, 1, 1}
	out, err := applyPredictor(data, params)
	if err != nil {
		t.Fatalf("predictor error: %v", err)
	}
	if !bytes.Equal(out, []byte{3, 4, 4, 5}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestASCIIHexDecodeWhitespaceAndOddLength(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode(context.Background(), []byte("61 62\n6>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{'a', 'b', 0x60}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestRunLengthTruncated(t *testing.T) {
	if _, err := NewRunLengthDecoder().Decode(context.Background(), []byte{4, 'a'}, nil); err == nil {
		t.Fatalf("expected error for truncated literal run")
	}
}

func TestCCITTFaxGroup4AllWhite(t *testing.T) {
	// two V0 codes followed by EOFB
	data := []byte{0xC0, 0x04, 0x00, 0x40}
	params := raw.DictOf(
		raw.KV("K", raw.NumberInt(-1)),
		raw.KV("Columns", raw.NumberInt(8)),
		raw.KV("Rows", raw.NumberInt(2)),
	)
	out, err := NewCCITTFaxDecoder().Decode(context.Background(), data, params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{0xff, 0xff}) {
		t.Fatalf("unexpected output: %x", out)
	}
}

func TestCryptIdentity(t *testing.T) {
	out, err := NewCryptDecoder().Decode(context.Background(), []byte("abc"), nil)
	if err != nil || string(out) != "abc" {
		t.Fatalf("identity crypt: %q %v", out, err)
	}
	named := raw.DictOf(raw.KV("Name", raw.NameLiteral("StdCF")))
	_, err = NewCryptDecoder().Decode(context.Background(), []byte("abc"), named)
	var ue UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestPipelineAbbreviationsAndChain(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte("chained"))
	w.Close()
	hexed := []byte(hex.EncodeToString(buf.Bytes()) + ">")

	p := NewDefaultPipeline(Limits{})
	out, err := p.Decode(context.Background(), hexed, []string{"AHx", "Fl"}, nil)
	if err != nil {
		t.Fatalf("pipeline decode error: %v", err)
	}
	if string(out) != "chained" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineUnknownFilter(t *testing.T) {
	p := NewDefaultPipeline(Limits{})
	if _, err := p.Decode(context.Background(), []byte("x"), []string{"BogusDecode"}, nil); err == nil {
		t.Fatalf("expected unknown filter error")
	}
}

func TestPipelineSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(bytes.Repeat([]byte{'a'}, 4096))
	w.Close()

	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 100})
	_, err := p.Decode(context.Background(), buf.Bytes(), []string{"FlateDecode"}, nil)
	if !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDefaultPipeline(Limits{})
	if _, err := p.Decode(ctx, []byte("61>"), []string{"ASCIIHexDecode"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractFilters(t *testing.T) {
	parms := raw.DictOf(raw.KV("Predictor", raw.NumberInt(12)))
	dict := raw.DictOf(
		raw.KV("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode"))),
		raw.KV("DecodeParms", raw.NewArray(raw.NullObj{}, parms)),
	)
	names, params := ExtractFilters(dict)
	if len(names) != 2 || names[0] != "ASCII85Decode" || names[1] != "FlateDecode" {
		t.Fatalf("unexpected names: %v", names)
	}
	if params[0] != nil || params[1] != parms {
		t.Fatalf("unexpected params: %v", params)
	}

	single := raw.DictOf(raw.KV("Filter", raw.NameLiteral("DCTDecode")))
	names, params = ExtractFilters(single)
	if len(names) != 1 || len(params) != 1 || params[0] != nil {
		t.Fatalf("unexpected single filter result: %v %v", names, params)
	}

	if names, _ := ExtractFilters(raw.Dict()); names != nil {
		t.Fatalf("expected no filters, got %v", names)
	}
}
