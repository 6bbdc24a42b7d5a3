package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/wudi/pdfdump/filters"
	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/observability"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/scanner"
)

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrBadSection  = errors.New("invalid xref section")
)

type EntryKind uint8

const (
	// EntryFree marks an absent or deleted object. It is the zero value, so
	// unset arena slots read as free.
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

func (k EntryKind) String() string {
	switch k {
	case EntryInUse:
		return "in-use"
	case EntryCompressed:
		return "compressed"
	}
	return "free"
}

// Entry locates one object. In-use entries carry Offset and Gen; compressed
// entries carry the object stream number in Stream and the member Index.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the cross-reference arena, indexed by object number.
type Table struct {
	entries []Entry
	defined []bool
	trailer *raw.DictObj
	kind    string
}

func newTable(kind string) *Table {
	return &Table{trailer: raw.Dict(), kind: kind}
}

// Lookup returns the entry for num. ok is false for free or unknown objects.
func (t *Table) Lookup(num int) (Entry, bool) {
	if num <= 0 || num >= len(t.entries) {
		return Entry{}, false
	}
	e := t.entries[num]
	return e, e.Kind != EntryFree
}

// Objects lists the numbers of in-use and compressed objects in ascending order.
func (t *Table) Objects() []int {
	var out []int
	for n, e := range t.entries {
		if n > 0 && e.Kind != EntryFree {
			out = append(out, n)
		}
	}
	return out
}

// LastObjectNumber is the highest object number the arena has a slot for.
func (t *Table) LastObjectNumber() int {
	if len(t.entries) == 0 {
		return 0
	}
	return len(t.entries) - 1
}

func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Type reports how the table was built: "table", "stream", "hybrid" or "repaired".
func (t *Table) Type() string { return t.kind }

// fill records e unless a newer section already defined num.
func (t *Table) fill(num int, e Entry) {
	if num < 0 {
		return
	}
	if num >= len(t.entries) {
		grown := make([]Entry, num+1)
		copy(grown, t.entries)
		t.entries = grown
		def := make([]bool, num+1)
		copy(def, t.defined)
		t.defined = def
	}
	if t.defined[num] {
		return
	}
	t.entries[num] = e
	t.defined[num] = true
}

// set overwrites the slot for num. Used by the repair scan where later
// definitions in the file win.
func (t *Table) set(num int, e Entry) {
	t.fill(num, e)
	t.entries[num] = e
}

// mergeTrailer copies keys the table does not have yet.
func (t *Table) mergeTrailer(d *raw.DictObj) {
	if d == nil {
		return
	}
	for _, k := range d.Keys() {
		if k == "Prev" || k == "XRefStm" {
			continue
		}
		if _, ok := t.trailer.Get(k); ok {
			continue
		}
		v, _ := d.Get(k)
		t.trailer.Set(k, v)
	}
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (*Table, error)
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Logger       observability.Logger
	Scanner      scanner.Config
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &chainResolver{cfg: cfg, pipeline: filters.NewDefaultPipeline(filters.Limits{})}
}

// chainResolver follows startxref and the /Prev chain, falling back to a
// full-file repair scan when recovery allows it.
type chainResolver struct {
	cfg      ResolverConfig
	pipeline *filters.Pipeline
}

func (c *chainResolver) Resolve(ctx context.Context, r io.ReaderAt) (*Table, error) {
	size, err := sizeOf(r)
	if err != nil {
		return nil, err
	}
	table, err := c.resolveChain(ctx, r, size)
	if err == nil {
		return table, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	loc := recovery.Location{Component: "xref"}
	if !recovery.Tolerant(c.cfg.Recovery, ctx, err, loc) {
		return nil, err
	}
	c.cfg.Logger.Debug("xref unusable, scanning file", observability.Error("error", err))
	return Repair(ctx, r, size, c.pipeline)
}

func (c *chainResolver) resolveChain(ctx context.Context, r io.ReaderAt, size int64) (*Table, error) {
	offset, err := findStartXRef(r, size)
	if err != nil {
		return nil, err
	}
	table := newTable("table")
	visited := make(map[int64]bool)
	for depth := 0; offset > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= c.cfg.MaxXRefDepth {
			if err := c.chainAnomaly(ctx, fmt.Errorf("xref chain longer than %d sections", c.cfg.MaxXRefDepth), offset); err != nil {
				return nil, err
			}
			break
		}
		if visited[offset] {
			if err := c.chainAnomaly(ctx, fmt.Errorf("xref chain loops at offset %d", offset), offset); err != nil {
				return nil, err
			}
			break
		}
		visited[offset] = true

		trailer, err := c.readSection(ctx, r, size, offset, table, depth == 0)
		if err != nil {
			if depth == 0 {
				return nil, err
			}
			if err := c.chainAnomaly(ctx, err, offset); err != nil {
				return nil, err
			}
			break
		}
		table.mergeTrailer(trailer)
		prev, ok := trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if len(table.entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrBadSection)
	}
	return table, nil
}

// chainAnomaly reports a broken older section; a nil return keeps the
// entries read so far.
func (c *chainResolver) chainAnomaly(ctx context.Context, err error, offset int64) error {
	if recovery.Tolerant(c.cfg.Recovery, ctx, err, recovery.Location{Component: "xref:prev", ByteOffset: offset}) {
		return nil
	}
	return err
}

// readSection merges the section at offset into table and returns its trailer.
func (c *chainResolver) readSection(ctx context.Context, r io.ReaderAt, size, offset int64, table *Table, newest bool) (*raw.DictObj, error) {
	if offset <= 0 || offset >= size {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrBadSection, offset)
	}
	if isClassicAt(r, offset) {
		entries, trailer, err := c.readClassic(r, offset)
		if err != nil {
			return nil, err
		}
		// A hybrid file lists compressed objects in the /XRefStm stream while
		// its classic table marks them free.
		if stmOff, ok := trailer.Int("XRefStm"); ok {
			stmEntries, _, err := c.readStream(ctx, r, stmOff)
			if err != nil {
				if aerr := c.chainAnomaly(ctx, err, stmOff); aerr != nil {
					return nil, aerr
				}
			} else {
				for num, e := range stmEntries {
					if cur, ok := entries[num]; !ok || cur.Kind == EntryFree {
						entries[num] = e
					}
				}
				if newest {
					table.kind = "hybrid"
				}
			}
		}
		applySection(table, entries)
		return trailer, nil
	}
	entries, trailer, err := c.readStream(ctx, r, offset)
	if err != nil {
		return nil, err
	}
	if newest {
		table.kind = "stream"
	}
	applySection(table, entries)
	return trailer, nil
}

func applySection(table *Table, entries map[int]Entry) {
	for num, e := range entries {
		table.fill(num, e)
	}
}

func (c *chainResolver) objectReader(r io.ReaderAt) *raw.ObjectReader {
	return raw.NewObjectReader(scanner.New(r, c.cfg.Scanner), 0, DirectLength).WithRecovery(c.cfg.Recovery)
}

// DirectLength trusts /Length only when it is a direct non-negative integer.
func DirectLength(d *raw.DictObj) int64 {
	if n, ok := d.Int("Length"); ok && n >= 0 {
		return n
	}
	return -1
}

// readClassic parses "xref" subsections followed by "trailer <<...>>".
func (c *chainResolver) readClassic(r io.ReaderAt, offset int64) (map[int]Entry, *raw.DictObj, error) {
	or := c.objectReader(r)
	if err := or.SeekTo(offset); err != nil {
		return nil, nil, err
	}
	if tok, err := or.Next(); err != nil || tok.Type != scanner.TokenKeyword || tok.Str != "xref" {
		return nil, nil, fmt.Errorf("%w: xref keyword not found at %d", ErrBadSection, offset)
	}
	entries := make(map[int]Entry)
	for {
		tok, err := or.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := or.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, nil, fmt.Errorf("%w: bad subsection header at %d", ErrBadSection, tok.Pos)
		}
		start, count := int(tok.Int), int(countTok.Int)
		if start < 0 || count < 0 {
			return nil, nil, fmt.Errorf("%w: negative subsection bounds at %d", ErrBadSection, tok.Pos)
		}
		for i := 0; i < count; i++ {
			offTok, err1 := or.Next()
			genTok, err2 := or.Next()
			kindTok, err3 := or.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("%w: truncated entry %d: %v", ErrBadSection, start+i, err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("%w: malformed entry for object %d", ErrBadSection, start+i)
			}
			e := Entry{Offset: offTok.Int, Gen: int(genTok.Int)}
			switch kindTok.Str {
			case "n":
				e.Kind = EntryInUse
				if e.Offset == 0 {
					e.Kind = EntryFree
				}
			case "f":
				e.Kind = EntryFree
			default:
				return nil, nil, fmt.Errorf("%w: entry type %q for object %d", ErrBadSection, kindTok.Str, start+i)
			}
			entries[start+i] = e
		}
	}
	obj, err := or.ReadObject()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: trailer: %v", ErrBadSection, err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, fmt.Errorf("%w: trailer is %s", ErrBadSection, obj.Type())
	}
	return entries, trailer, nil
}

// readStream parses a cross-reference stream object at offset.
func (c *chainResolver) readStream(ctx context.Context, r io.ReaderAt, offset int64) (map[int]Entry, *raw.DictObj, error) {
	or := c.objectReader(r)
	if err := or.SeekTo(offset); err != nil {
		return nil, nil, err
	}
	_, obj, err := or.ReadIndirect()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadSection, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, nil, fmt.Errorf("%w: object at %d is not an xref stream", ErrBadSection, offset)
	}
	if name, _ := st.Dict.Name("Type"); name != "XRef" {
		return nil, nil, fmt.Errorf("%w: stream at %d has /Type %q", ErrBadSection, offset, name)
	}
	data, err := decodeStream(ctx, c.pipeline, st)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: xref stream: %v", ErrBadSection, err)
	}
	entries, err := parseStreamEntries(st.Dict, data)
	if err != nil {
		return nil, nil, err
	}
	return entries, st.Dict, nil
}

// parseStreamEntries decodes binary rows laid out by /W over the /Index ranges.
func parseStreamEntries(dict *raw.DictObj, data []byte) (map[int]Entry, error) {
	wObj, _ := dict.Get("W")
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() != 3 {
		return nil, fmt.Errorf("%w: /W must be an array of three integers", ErrBadSection)
	}
	var w [3]int
	rowLen := 0
	for i := range w {
		n, ok := wArr.Items[i].(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return nil, fmt.Errorf("%w: invalid /W entry %d", ErrBadSection, i)
		}
		w[i] = int(n.Int())
		rowLen += w[i]
	}
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: /W row width is zero", ErrBadSection)
	}

	var index []int
	if idxObj, ok := dict.Get("Index"); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, fmt.Errorf("%w: /Index must hold start/count pairs", ErrBadSection)
		}
		for _, it := range arr.Items {
			n, ok := it.(raw.NumberObj)
			if !ok || n.Int() < 0 {
				return nil, fmt.Errorf("%w: invalid /Index value", ErrBadSection)
			}
			index = append(index, int(n.Int()))
		}
	} else {
		size, ok := dict.Int("Size")
		if !ok {
			return nil, fmt.Errorf("%w: xref stream missing /Size", ErrBadSection)
		}
		index = []int{0, int(size)}
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return entries, nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := uint64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := start + j
			switch typ {
			case 0:
				entries[num] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				entries[num] = Entry{Kind: EntryInUse, Offset: int64(f2), Gen: int(f3)}
			case 2:
				entries[num] = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			default:
				// unknown types are references to the null object
				entries[num] = Entry{Kind: EntryFree}
			}
		}
	}
	return entries, nil
}

func field(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// decodeStream runs the stream's own filter chain. Filter entries in xref
// and object streams must be direct.
func decodeStream(ctx context.Context, p *filters.Pipeline, st *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(st.Dict)
	if len(names) == 0 {
		return st.Data, nil
	}
	return p.Decode(ctx, st.Data, names, params)
}

func isClassicAt(r io.ReaderAt, offset int64) bool {
	buf := make([]byte, 64)
	n, _ := r.ReadAt(buf, offset)
	trimmed := bytes.TrimLeft(buf[:n], " \t\r\n\f\x00")
	return bytes.HasPrefix(trimmed, []byte("xref"))
}

const tailWindow = 2048

// findStartXRef reads the offset after the last startxref keyword.
func findStartXRef(r io.ReaderAt, size int64) (int64, error) {
	start := size - tailWindow
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	n, err := r.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	buf = buf[:n]
	idx := bytes.LastIndex(buf, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	fields := bytes.Fields(buf[idx+len("startxref"):])
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: missing offset", ErrNoStartXRef)
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if off <= 0 || off >= size {
		return 0, fmt.Errorf("xref offset out of range: %d", off)
	}
	return off, nil
}

type sizer interface{ Size() int64 }

func sizeOf(r io.ReaderAt) (int64, error) {
	switch v := r.(type) {
	case sizer:
		return v.Size(), nil
	case *os.File:
		fi, err := v.Stat()
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	}
	return int64(len(readAll(r))), nil
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
