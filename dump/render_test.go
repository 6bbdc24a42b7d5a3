package dump

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfdump/ir/raw"
)

func TestIsDecodeSafe(t *testing.T) {
	cases := map[string]bool{
		"DCTDecode":       false,
		"JPXDecode":       false,
		"CCITTFaxDecode":  false,
		"FlateDecode":     true,
		"LZWDecode":       true,
		"ASCII85Decode":   true,
		"ASCIIHexDecode":  true,
		"RunLengthDecode": true,
		"JBIG2Decode":     true,
		"Crypt":           true,
		"DCT":             true,
		"dctdecode":       true,
		"":                true,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsDecodeSafe(in), in)
	}
}

func TestRenderScalars(t *testing.T) {
	r := NewRenderer(nil)
	dict := raw.DictOf(
		raw.KV("Length", num(10)),
		raw.KV("Scale", raw.NumberFloat(0.5)),
		raw.KV("Neg", raw.NumberFloat(-1.25)),
		raw.KV("Interpolate", raw.Bool(true)),
		raw.KV("Nothing", raw.NullObj{}),
		raw.KV("Title", raw.Str([]byte("a(b)\\c\n\x01"))),
		raw.KV("ID", raw.HexStringObj{Bytes: []byte{0xde, 0xad}}),
		raw.KV("Parent", raw.Ref(4, 0)),
		raw.KV("Odd Name", name("A B#")),
	)
	text, level := r.Render(context.Background(), dict, true)
	assert.True(t, level)
	assert.Equal(t, `<< /Length 10 /Scale 0.5 /Neg -1.25 /Interpolate true /Nothing null /Title (a\(b\)\\c\n\001) /ID <dead> /Parent 4 0 R /Odd#20Name /A#20B#23 >>`, text)
}

func TestRenderEmptyAndNil(t *testing.T) {
	r := NewRenderer(nil)
	text, level := r.Render(context.Background(), raw.Dict(), true)
	assert.Equal(t, "<< >>", text)
	assert.True(t, level)

	text, level = r.Render(context.Background(), nil, false)
	assert.Equal(t, "<< >>", text)
	assert.False(t, level)
}

func TestRenderMalformedValueIsEmpty(t *testing.T) {
	r := NewRenderer(nil)
	dict := raw.Dict()
	dict.Set("Broken", nil)
	dict.Set("Filter", raw.NewArray(nil, name("FlateDecode"), nil))
	dict.Set("Length", num(3))
	text, level := r.Render(context.Background(), dict, true)
	assert.True(t, level)
	assert.Equal(t, "<< /Broken /Filter [/FlateDecode] /Length 3 >>", text)
}

func TestRenderDecodeLevel(t *testing.T) {
	cases := []struct {
		name string
		dict *raw.DictObj
		want bool
		text string
	}{
		{
			name: "no filter",
			dict: raw.DictOf(raw.KV("Length", num(4))),
			want: true,
			text: "<< /Length 4 >>",
		},
		{
			name: "flate",
			dict: raw.DictOf(raw.KV("Filter", name("FlateDecode"))),
			want: true,
			text: "<< /Filter /FlateDecode >>",
		},
		{
			name: "dct",
			dict: raw.DictOf(raw.KV("Filter", name("DCTDecode"))),
			want: false,
			text: "<< /Filter /DCTDecode >>",
		},
		{
			name: "chain ending in image codec",
			dict: raw.DictOf(raw.KV("Filter", raw.NewArray(name("FlateDecode"), name("DCTDecode")))),
			want: false,
			text: "<< /Filter [/FlateDecode /DCTDecode] >>",
		},
		{
			name: "image codec then safe name",
			dict: raw.DictOf(raw.KV("Filter", raw.NewArray(name("JPXDecode"), name("FlateDecode")))),
			want: false,
			text: "<< /Filter [/JPXDecode /FlateDecode] >>",
		},
		{
			name: "codec inside array of parameter dictionaries",
			dict: raw.DictOf(
				raw.KV("Filter", name("FlateDecode")),
				raw.KV("DecodeParms", raw.NewArray(
					raw.NullObj{},
					raw.DictOf(raw.KV("K", num(-1)), raw.KV("Filter", name("CCITTFaxDecode"))),
				)),
			),
			want: false,
			text: "<< /Filter /FlateDecode /DecodeParms [null << /K -1 /Filter /CCITTFaxDecode >>] >>",
		},
		{
			name: "safe name after codec in a later key",
			dict: raw.DictOf(
				raw.KV("Filter", name("DCTDecode")),
				raw.KV("Subtype", name("Image")),
				raw.KV("SMask", raw.DictOf(raw.KV("Filter", name("FlateDecode")))),
			),
			want: false,
			text: "<< /Filter /DCTDecode /Subtype /Image /SMask << /Filter /FlateDecode >> >>",
		},
		{
			name: "codec name under a non-filter key",
			dict: raw.DictOf(raw.KV("Note", name("JPXDecode"))),
			want: false,
			text: "<< /Note /JPXDecode >>",
		},
	}
	r := NewRenderer(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, level := r.Render(context.Background(), tc.dict, true)
			assert.Equal(t, tc.want, level)
			assert.Equal(t, tc.text, text)
		})
	}
}

func TestRenderInheritedFalseIsFrozen(t *testing.T) {
	r := NewRenderer(nil)
	dict := raw.DictOf(raw.KV("Filter", name("FlateDecode")))
	_, level := r.Render(context.Background(), dict, false)
	assert.False(t, level)
}

func TestRenderDeepNesting(t *testing.T) {
	const depth = 200
	inner := raw.DictOf(raw.KV("Filter", name("CCITTFaxDecode")))
	var v raw.Object = inner
	for i := 0; i < depth; i++ {
		if i%2 == 0 {
			v = raw.NewArray(name("FlateDecode"), v)
		} else {
			v = raw.DictOf(raw.KV("Sub", v))
		}
	}
	dict := raw.DictOf(raw.KV("Filter", name("FlateDecode")), raw.KV("Nested", v))

	_, level := NewRenderer(nil).Render(context.Background(), dict, true)
	assert.False(t, level)

	safe := raw.DictOf(raw.KV("Filter", name("FlateDecode")))
	v = safe
	for i := 0; i < depth; i++ {
		v = raw.NewArray(raw.DictOf(raw.KV("Sub", v)))
	}
	_, level = NewRenderer(nil).Render(context.Background(), raw.DictOf(raw.KV("Nested", v)), true)
	assert.True(t, level)
}

func TestRenderResolvesReferencesUnderKeys(t *testing.T) {
	eng := newFakeEngine()
	eng.add(10, num(42))
	eng.add(11, raw.NewArray(name("FlateDecode"), name("DCTDecode")))
	eng.add(12, raw.DictOf(raw.KV("Filter", name("JPXDecode"))))
	eng.add(13, raw.Ref(10, 0))
	eng.add(14, name("ASCIIHexDecode"))

	r := NewRenderer(eng)
	ctx := context.Background()

	text, level := r.Render(ctx, raw.DictOf(raw.KV("Length", raw.Ref(10, 0)), raw.KV("Filter", raw.Ref(14, 0))), true)
	assert.True(t, level)
	assert.Equal(t, "<< /Length 42 /Filter /ASCIIHexDecode >>", text)

	text, level = r.Render(ctx, raw.DictOf(raw.KV("Filter", raw.Ref(11, 0))), true)
	assert.False(t, level)
	assert.Equal(t, "<< /Filter [/FlateDecode /DCTDecode] >>", text)

	// Dictionaries behind references are not followed.
	text, level = r.Render(ctx, raw.DictOf(raw.KV("DecodeParms", raw.Ref(12, 0))), true)
	assert.True(t, level)
	assert.Equal(t, "<< /DecodeParms 12 0 R >>", text)

	text, _ = r.Render(ctx, raw.DictOf(raw.KV("Chain", raw.Ref(13, 0)), raw.KV("Missing", raw.Ref(99, 0))), true)
	assert.Equal(t, "<< /Chain 13 0 R /Missing 99 0 R >>", text)

	// References inside arrays are never resolved.
	text, level = r.Render(ctx, raw.DictOf(raw.KV("Filter", raw.NewArray(raw.Ref(14, 0), raw.Ref(11, 0)))), true)
	assert.True(t, level)
	assert.Equal(t, "<< /Filter [14 0 R 11 0 R] >>", text)
}

func TestRenderSelfReferenceTerminates(t *testing.T) {
	eng := newFakeEngine()
	self := raw.Dict()
	self.Set("Self", raw.Ref(1, 0))
	eng.add(1, raw.NewStream(self, nil))

	text, level := NewRenderer(eng).Render(context.Background(), self, true)
	require.True(t, level)
	assert.Equal(t, "<< /Self 1 0 R >>", text)
}
