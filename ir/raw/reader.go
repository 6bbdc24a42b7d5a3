package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/scanner"
)

var (
	// ErrDepth is returned when arrays and dictionaries nest deeper than allowed.
	ErrDepth = errors.New("object nesting too deep")
	// ErrMalformed marks a token that cannot stand where it was found.
	ErrMalformed = errors.New("malformed object")
)

// LengthHint returns the payload length declared by a stream dictionary,
// or -1 when the scanner should search for endstream instead.
type LengthHint func(dict *DictObj) int64

// ObjectReader builds objects from scanner tokens, with one-token pushback.
type ObjectReader struct {
	s        scanner.Scanner
	buf      []scanner.Token
	maxDepth int
	hint     LengthHint
	rec      recovery.Strategy
	loc      recovery.Location
}

// NewObjectReader wraps s. maxDepth <= 0 disables the nesting check.
func NewObjectReader(s scanner.Scanner, maxDepth int, hint LengthHint) *ObjectReader {
	return &ObjectReader{s: s, maxDepth: maxDepth, hint: hint}
}

// WithRecovery lets s decide whether a malformed entry inside an array or
// dictionary is dropped or fails the whole object. Without a strategy every
// malformed entry is an error.
func (r *ObjectReader) WithRecovery(s recovery.Strategy) *ObjectReader {
	r.rec = s
	return r
}

func (r *ObjectReader) Scanner() scanner.Scanner { return r.s }

// Next returns the next token, honouring pushback.
func (r *ObjectReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *ObjectReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// SeekTo repositions the underlying scanner and drops pushed-back tokens.
func (r *ObjectReader) SeekTo(off int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(off)
}

// ReadObject reads one direct object. A dictionary followed by a stream
// keyword becomes a *StreamObj.
func (r *ObjectReader) ReadObject() (Object, error) {
	obj, err := r.readValue(0)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*DictObj)
	if !ok {
		return obj, nil
	}
	if len(r.buf) == 0 && r.hint != nil {
		r.s.SetNextStreamLength(r.hint(dict))
	}
	tok, err := r.Next()
	if err != nil {
		r.s.SetNextStreamLength(-1)
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if tok.Type == scanner.TokenStream {
		return NewStream(dict, tok.Bytes), nil
	}
	r.s.SetNextStreamLength(-1)
	r.Unread(tok)
	return dict, nil
}

// ReadIndirect reads "num gen obj <object> [endobj]" at the cursor.
func (r *ObjectReader) ReadIndirect() (ObjectRef, Object, error) {
	var ref ObjectRef
	numTok, err := r.Next()
	if err != nil {
		return ref, nil, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return ref, nil, fmt.Errorf("expected object number at %d, got %v", numTok.Pos, numTok.Type)
	}
	genTok, err := r.Next()
	if err != nil {
		return ref, nil, err
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return ref, nil, fmt.Errorf("expected generation at %d, got %v", genTok.Pos, genTok.Type)
	}
	kw, err := r.Next()
	if err != nil {
		return ref, nil, err
	}
	if kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return ref, nil, fmt.Errorf("expected obj keyword at %d", kw.Pos)
	}
	ref = ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}
	r.loc = recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen}
	if rc, ok := r.s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		rc.SetRecoveryLocation(r.loc)
	}
	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d %d: %w", ref.Num, ref.Gen, err)
	}
	if t, err := r.Next(); err == nil {
		if t.Type != scanner.TokenKeyword || t.Str != "endobj" {
			r.Unread(t)
		}
	}
	return ref, obj, nil
}

func (r *ObjectReader) readValue(depth int) (Object, error) {
	if r.maxDepth > 0 && depth > r.maxDepth {
		return nil, ErrDepth
	}
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return Bool(tok.Bool), nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		if tok.Hex {
			return HexStringObj{Bytes: tok.Bytes}, nil
		}
		return StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		return r.readArray(depth + 1)
	case scanner.TokenDict:
		return r.readDict(depth + 1)
	}
	return nil, fmt.Errorf("%w: unexpected %v token %q at %d", ErrMalformed, tok.Type, tok.Str, tok.Pos)
}

// tolerate asks the recovery strategy whether a malformed entry at pos may be
// dropped.
func (r *ObjectReader) tolerate(err error, pos int64) bool {
	if !errors.Is(err, ErrMalformed) {
		return false
	}
	loc := r.loc
	loc.Component = "reader"
	loc.ByteOffset = pos
	return recovery.Tolerant(r.rec, nil, err, loc)
}

// endsObject reports whether tok can only close an object, never start a
// value inside one.
func endsObject(tok scanner.Token) bool {
	if tok.Type == scanner.TokenStream {
		return true
	}
	return tok.Type == scanner.TokenKeyword && (tok.Str == "endobj" || tok.Str == ">>")
}

// readArray drops malformed members when recovery allows it. A missing "]"
// before the enclosing ">>" or endobj closes the array.
func (r *ObjectReader) readArray(depth int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		r.Unread(tok)
		if endsObject(tok) {
			err := fmt.Errorf("%w: unterminated array at %d", ErrMalformed, tok.Pos)
			if !r.tolerate(err, tok.Pos) {
				return nil, err
			}
			return arr, nil
		}
		item, err := r.readValue(depth)
		if err != nil {
			if r.tolerate(err, tok.Pos) {
				arr.Append(nil)
				continue
			}
			return nil, err
		}
		arr.Append(item)
	}
}

// readDict keeps the key of a malformed value with a nil value and skips
// stray tokens in key position when recovery allows it.
func (r *ObjectReader) readDict(depth int) (Object, error) {
	d := Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			err := fmt.Errorf("%w: expected name key in dictionary at %d, got %v", ErrMalformed, tok.Pos, tok.Type)
			if !r.tolerate(err, tok.Pos) {
				return nil, err
			}
			if endsObject(tok) {
				r.Unread(tok)
				return d, nil
			}
			continue
		}
		next, err := r.Next()
		if err != nil {
			return nil, err
		}
		r.Unread(next)
		if endsObject(next) {
			err := fmt.Errorf("%w: no value for /%s at %d", ErrMalformed, tok.Str, next.Pos)
			if !r.tolerate(err, next.Pos) {
				return nil, err
			}
			d.Set(tok.Str, nil)
			continue
		}
		val, err := r.readValue(depth)
		if err != nil {
			if r.tolerate(err, next.Pos) {
				d.Set(tok.Str, nil)
				continue
			}
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}
