package dump

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/wudi/pdfdump/ir/raw"
)

// Renderer prints stream header dictionaries and computes the decode level
// in the same depth-first pass.
type Renderer struct {
	resolver Resolver
}

// NewRenderer returns a Renderer that follows references under dictionary
// keys through r. A nil r leaves every reference as an "n g R" literal.
func NewRenderer(r Resolver) *Renderer {
	return &Renderer{resolver: r}
}

// Render returns the text form of dict and the decode level after every
// reachable filter name has been classified. The level only ever moves from
// true to false.
func (r *Renderer) Render(ctx context.Context, dict raw.Dictionary, inherited bool) (string, bool) {
	var b strings.Builder
	level := r.dict(ctx, &b, dict, inherited)
	return b.String(), level
}

func (r *Renderer) dict(ctx context.Context, b *strings.Builder, dict raw.Dictionary, level bool) bool {
	b.WriteString("<<")
	if dict != nil {
		for _, key := range dict.Keys() {
			b.WriteString(" /")
			writeName(b, key)
			v, _ := dict.Get(key)
			if ref, ok := v.(raw.RefObj); ok {
				v = r.direct(ctx, ref)
			}
			level = r.value(ctx, b, v, level)
		}
	}
	b.WriteString(" >>")
	return level
}

// value writes " <v>" for v. Malformed values write nothing.
func (r *Renderer) value(ctx context.Context, b *strings.Builder, v raw.Object, level bool) bool {
	switch o := v.(type) {
	case raw.NameObj:
		b.WriteString(" /")
		writeName(b, o.Val)
		return level && IsDecodeSafe(o.Val)
	case *raw.DictObj:
		if o == nil {
			return level
		}
		b.WriteByte(' ')
		sub := r.dict(ctx, b, o, level)
		if level {
			level = sub
		}
	case *raw.StreamObj:
		if o == nil {
			return level
		}
		b.WriteByte(' ')
		sub := r.dict(ctx, b, o.Dict, level)
		if level {
			level = sub
		}
	case *raw.ArrayObj:
		if o == nil {
			return level
		}
		b.WriteString(" [")
		first := true
		for _, item := range o.Items {
			var elem strings.Builder
			level = r.value(ctx, &elem, item, level)
			s := strings.TrimPrefix(elem.String(), " ")
			if s == "" {
				continue
			}
			if !first {
				b.WriteByte(' ')
			}
			b.WriteString(s)
			first = false
		}
		b.WriteByte(']')
	case raw.NumberObj:
		b.WriteByte(' ')
		b.WriteString(formatNumber(o))
	case raw.BoolObj:
		b.WriteByte(' ')
		b.WriteString(strconv.FormatBool(o.V))
	case raw.NullObj:
		b.WriteString(" null")
	case raw.StringObj:
		b.WriteByte(' ')
		writeLiteralString(b, o.Bytes)
	case raw.HexStringObj:
		b.WriteString(" <")
		b.WriteString(hex.EncodeToString(o.Bytes))
		b.WriteByte('>')
	case raw.RefObj:
		b.WriteByte(' ')
		b.WriteString(o.R.String())
	}
	return level
}

// direct resolves ref one level. Scalars and arrays are returned in place of
// the reference; dictionaries, streams and failures keep the reference.
func (r *Renderer) direct(ctx context.Context, ref raw.RefObj) raw.Object {
	if r.resolver == nil {
		return ref
	}
	obj, err := r.resolver.Resolve(ctx, ref.R.Num)
	if err != nil || obj == nil {
		return ref
	}
	switch obj.(type) {
	case *raw.DictObj, *raw.StreamObj, raw.RefObj:
		return ref
	}
	return obj
}

func formatNumber(n raw.NumberObj) string {
	if n.IsInt {
		return strconv.FormatInt(n.I, 10)
	}
	return strconv.FormatFloat(n.F, 'f', -1, 64)
}

// writeName escapes delimiters, '#' and non-printable bytes as #xx.
func writeName(b *strings.Builder, name string) {
	const digits = "0123456789ABCDEF"
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7e || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			b.WriteByte('#')
			b.WriteByte(digits[c>>4])
			b.WriteByte(digits[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
}

func writeLiteralString(b *strings.Builder, s []byte) {
	b.WriteByte('(')
	for _, c := range s {
		switch c {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 || c > 0x7e {
				b.WriteByte('\\')
				b.WriteString(strconv.FormatInt(int64(c)|0o1000, 8)[1:])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
}
