package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wudi/pdfdump/filters"
	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/observability"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/security"
	"github.com/wudi/pdfdump/xref"
)

var (
	ErrNoXRef     = errors.New("cross-reference data unusable")
	ErrEncrypted  = errors.New("encrypted documents are not supported")
	ErrNotPDF     = errors.New("missing %PDF- header")
	ErrNotAStream = errors.New("object is not a stream")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Cache    Cache
	Logger   observability.Logger
}

// DocumentParser builds a Document from xref data and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Logger == nil {
		cfg.XRef.Logger = cfg.Logger
	}
	return &DocumentParser{cfg: cfg}
}

// Document is an opened PDF: its xref arena, trailer and a loader that
// resolves objects on demand.
type Document struct {
	Version  string
	Trailer  *raw.DictObj
	Metadata raw.DocumentMetadata

	table    *xref.Table
	loader   ObjectLoader
	pipeline *filters.Pipeline
	closer   io.Closer
}

// Open parses the file at path. The returned Document owns the file.
func Open(ctx context.Context, path string, cfg Config) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	doc, err := NewDocumentParser(cfg).Parse(ctx, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	doc.closer = f
	return doc, nil
}

// Load parses r. The caller keeps ownership of r.
func Load(ctx context.Context, r io.ReaderAt, cfg Config) (*Document, error) {
	return NewDocumentParser(cfg).Parse(ctx, r)
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*Document, error) {
	version := detectHeaderVersion(r)
	if version == "" {
		if !recovery.Tolerant(p.cfg.Recovery, ctx, ErrNotPDF, recovery.Location{Component: "header"}) {
			return nil, ErrNotPDF
		}
	}

	table, err := xref.NewResolver(p.cfg.XRef).Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoXRef, err)
	}
	trailer := table.Trailer()
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	pipeline := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       p.cfg.Limits.MaxDecodeTime,
	})
	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		WithPipeline(pipeline).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:  version,
		Trailer:  trailer,
		table:    table,
		loader:   loader,
		pipeline: pipeline,
	}
	doc.Metadata = p.populateMetadata(ctx, doc)
	p.cfg.Logger.Debug("document loaded",
		observability.String("version", version),
		observability.String("xref", table.Type()),
		observability.Int("objects", len(table.Objects())),
		observability.String("title", doc.Metadata.Title),
		observability.String("producer", doc.Metadata.Producer),
	)
	return doc, nil
}

// LastObjectNumber is the highest object number with an xref slot.
func (d *Document) LastObjectNumber() int { return d.table.LastObjectNumber() }

// IsValidObjectNumber reports whether n has an in-use or compressed entry.
func (d *Document) IsValidObjectNumber(n int) bool {
	_, ok := d.table.Lookup(n)
	return ok
}

// XRefType reports how the cross-reference data was obtained.
func (d *Document) XRefType() string { return d.table.Type() }

// Resolve loads object n at the generation recorded in the xref.
func (d *Document) Resolve(ctx context.Context, n int) (raw.Object, error) {
	e, ok := d.table.Lookup(n)
	if !ok {
		return nil, fmt.Errorf("object %d: %w", n, ErrObjectNotFound)
	}
	gen := e.Gen
	if e.Kind == xref.EntryCompressed {
		gen = 0
	}
	return d.loader.Load(ctx, raw.ObjectRef{Num: n, Gen: gen})
}

// FilteredBytes reverses the stream's filter chain. /Filter and
// /DecodeParms may be indirect.
func (d *Document) FilteredBytes(ctx context.Context, st raw.Stream) ([]byte, error) {
	if st == nil {
		return nil, ErrNotAStream
	}
	dict := d.directFilterEntries(ctx, st.Dictionary())
	names, params := filters.ExtractFilters(dict)
	if len(names) == 0 {
		return bytes.Clone(st.RawData()), nil
	}
	return d.pipeline.Decode(ctx, st.RawData(), names, params)
}

// RawBytes returns a copy of the stored payload.
func (d *Document) RawBytes(ctx context.Context, st raw.Stream) ([]byte, error) {
	if st == nil {
		return nil, ErrNotAStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bytes.Clone(st.RawData()), nil
}

// Close releases the file opened by Open. It is safe to call more than once.
func (d *Document) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	c := d.closer
	d.closer = nil
	return c.Close()
}

// directFilterEntries returns a dictionary holding /Filter and /DecodeParms
// with references resolved one level, including array members.
func (d *Document) directFilterEntries(ctx context.Context, dict raw.Dictionary) raw.Dictionary {
	if dict == nil {
		return nil
	}
	out := raw.Dict()
	for _, key := range []string{"Filter", "DecodeParms"} {
		v, ok := dict.Get(key)
		if !ok {
			continue
		}
		v = d.direct(ctx, v)
		if arr, ok := v.(*raw.ArrayObj); ok {
			items := make([]raw.Object, len(arr.Items))
			for i, it := range arr.Items {
				items[i] = d.direct(ctx, it)
			}
			v = raw.NewArray(items...)
		}
		out.Set(key, v)
	}
	return out
}

func (d *Document) direct(ctx context.Context, v raw.Object) raw.Object {
	ref, ok := v.(raw.RefObj)
	if !ok {
		return v
	}
	obj, err := d.loader.Load(ctx, ref.R)
	if err != nil {
		return raw.NullObj{}
	}
	return obj
}

func (p *DocumentParser) populateMetadata(ctx context.Context, doc *Document) raw.DocumentMetadata {
	var md raw.DocumentMetadata
	infoObj, ok := doc.Trailer.Get("Info")
	if !ok {
		return md
	}
	info, ok := doc.direct(ctx, infoObj).(*raw.DictObj)
	if !ok {
		return md
	}
	md.Title, _ = textValue(info, "Title")
	md.Author, _ = textValue(info, "Author")
	md.Creator, _ = textValue(info, "Creator")
	md.Producer, _ = textValue(info, "Producer")
	md.Subject, _ = textValue(info, "Subject")
	if v, ok := textValue(info, "Keywords"); ok {
		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				md.Keywords = append(md.Keywords, kw)
			}
		}
	}
	return md
}

func textValue(dict *raw.DictObj, key string) (string, bool) {
	obj, ok := dict.Get(key)
	if !ok {
		return "", false
	}
	switch s := obj.(type) {
	case raw.StringObj:
		return raw.TextString(s.Bytes), true
	case raw.HexStringObj:
		return raw.TextString(s.Bytes), true
	}
	return "", false
}

// detectHeaderVersion finds "%PDF-x.y" within the first kilobyte.
func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	idx := bytes.Index(buf[:n], []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	line := buf[idx+5 : n]
	end := bytes.IndexAny(line, "\r\n \t%")
	if end >= 0 {
		line = line[:end]
	}
	return strings.TrimSpace(string(line))
}
