package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfdump/filters"
	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/scanner"
	"github.com/wudi/pdfdump/security"
	"github.com/wudi/pdfdump/xref"
)

var (
	ErrObjectNotFound = errors.New("object not found in xref")
	ErrHeaderMismatch = errors.New("object header mismatch")
)

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// memoryCache is a concurrency-safe map cache.
type memoryCache struct {
	mu sync.RWMutex
	m  map[raw.ObjectRef]raw.Object
}

func NewMemoryCache() Cache { return &memoryCache{m: make(map[raw.ObjectRef]raw.Object)} }

func (c *memoryCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[ref]
	return v, ok
}

func (c *memoryCache) Put(ref raw.ObjectRef, obj raw.Object) {
	c.mu.Lock()
	c.m[ref] = obj
	c.mu.Unlock()
}

type ObjectLoader interface {
	// Load returns the object ref points at, reading it from the xref
	// offset or from its object stream on first use.
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable *xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline
}

func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}
func (b *ObjectLoaderBuilder) WithPipeline(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.pipeline = p
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	p := b.pipeline
	if p == nil {
		p = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		limits:    limits,
		cache:     b.cache,
		recovery:  b.recovery,
		pipeline:  p,
		objstm:    make(map[int][]raw.Object),
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable *xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline

	mu     sync.Mutex
	objstm map[int][]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}
	o.mu.Lock()
	obj, err := o.loadLocked(ctx, ref, 0)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Stream payloads are not cached; each is visited once by a walk.
	if _, isStream := obj.(*raw.StreamObj); o.cache != nil && !isStream {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

// loadLocked assumes the caller holds o.mu. depth counts nested loads
// triggered by indirect /Length values.
func (o *objectLoader) loadLocked(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > o.limits.MaxIndirectDepth {
		return nil, fmt.Errorf("object %d: indirect depth exceeded", ref.Num)
	}
	e, ok := o.xrefTable.Lookup(ref.Num)
	if !ok {
		return nil, fmt.Errorf("object %d: %w", ref.Num, ErrObjectNotFound)
	}
	switch e.Kind {
	case xref.EntryCompressed:
		return o.loadFromObjectStream(ctx, ref.Num, e, depth)
	default:
		return o.loadAtOffset(ctx, ref.Num, e.Gen, e.Offset, depth)
	}
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxArrayDepth:   o.limits.MaxIndirectDepth,
		MaxDictDepth:    o.limits.MaxIndirectDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

// loadAtOffset builds a fresh scanner per load so nested loads for indirect
// lengths never share a cursor.
func (o *objectLoader) loadAtOffset(ctx context.Context, num, gen int, offset int64, depth int) (raw.Object, error) {
	s := scanner.New(o.reader, o.scannerConfig())
	var lengthErr error
	hint := func(d *raw.DictObj) int64 {
		n, err := o.resolveStreamLength(ctx, d, depth)
		if err != nil {
			lengthErr = err
			return -1
		}
		return n
	}
	or := raw.NewObjectReader(s, o.limits.MaxIndirectDepth, hint).WithRecovery(o.recovery)
	if err := or.SeekTo(offset); err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	ref, obj, err := or.ReadIndirect()
	if err != nil {
		return nil, err
	}
	if ref.Num != num || ref.Gen != gen {
		mismatch := fmt.Errorf("%w: want %d %d, found %d %d at %d", ErrHeaderMismatch, num, gen, ref.Num, ref.Gen, offset)
		if !recovery.Tolerant(o.recovery, ctx, mismatch, recovery.Location{Component: "loader", ObjectNum: num, ObjectGen: gen, ByteOffset: offset}) {
			return nil, mismatch
		}
	}
	if lengthErr != nil {
		// The payload was recovered by scanning for endstream.
		if !recovery.Tolerant(o.recovery, ctx, lengthErr, recovery.Location{Component: "loader:length", ObjectNum: num, ObjectGen: gen, ByteOffset: offset}) {
			return nil, lengthErr
		}
	}
	return obj, nil
}

// resolveStreamLength returns the declared payload length, following an
// indirect /Length. A missing or non-numeric length yields -1 so the scanner
// looks for endstream.
func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj, depth int) (int64, error) {
	val, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		if n := v.Int(); n >= 0 {
			return n, nil
		}
		return -1, nil
	case raw.RefObj:
		obj, err := o.loadLocked(ctx, v.R, depth+1)
		if err != nil {
			return -1, fmt.Errorf("length reference %v: %w", v.R, err)
		}
		if num, ok := obj.(raw.NumberObj); ok && num.Int() >= 0 {
			return num.Int(), nil
		}
		return -1, fmt.Errorf("length reference %v is not a non-negative number", v.R)
	}
	return -1, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, num int, e xref.Entry, depth int) (raw.Object, error) {
	members, ok := o.objstm[e.Stream]
	if !ok {
		var err error
		members, err = o.readObjectStream(ctx, e.Stream, depth)
		if err != nil {
			return nil, fmt.Errorf("object %d in object stream %d: %w", num, e.Stream, err)
		}
		o.objstm[e.Stream] = members
	}
	if e.Index < 0 || e.Index >= len(members) || members[e.Index] == nil {
		return nil, fmt.Errorf("object %d: index %d missing from object stream %d", num, e.Index, e.Stream)
	}
	return members[e.Index], nil
}

// readObjectStream decodes an /ObjStm and parses every member. Members that
// fail to parse are left nil.
func (o *objectLoader) readObjectStream(ctx context.Context, streamNum int, depth int) ([]raw.Object, error) {
	e, ok := o.xrefTable.Lookup(streamNum)
	if !ok || e.Kind != xref.EntryInUse {
		return nil, fmt.Errorf("object stream %d is not a direct object", streamNum)
	}
	obj, err := o.loadAtOffset(ctx, streamNum, e.Gen, e.Offset, depth)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %d is not a stream", streamNum)
	}
	data := st.Data
	if names, params := filters.ExtractFilters(st.Dict); len(names) > 0 {
		data, err = o.pipeline.Decode(ctx, st.Data, names, params)
		if err != nil {
			return nil, err
		}
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	index, err := xref.ObjectStreamIndex(data, int(n), int(first))
	if err != nil {
		return nil, err
	}
	members := make([]raw.Object, len(index))
	for i, m := range index {
		s := scanner.New(bytes.NewReader(data), o.scannerConfig())
		or := raw.NewObjectReader(s, o.limits.MaxIndirectDepth, nil).WithRecovery(o.recovery)
		if err := or.SeekTo(m.Offset); err != nil {
			continue
		}
		v, err := or.ReadObject()
		if err != nil {
			if !recovery.Tolerant(o.recovery, ctx, err, recovery.Location{Component: "loader:objstm", ObjectNum: m.Num, ByteOffset: m.Offset}) {
				return nil, fmt.Errorf("member %d: %w", m.Num, err)
			}
			continue
		}
		members[i] = v
	}
	return members, nil
}
