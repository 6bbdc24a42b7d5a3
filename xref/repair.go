package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfdump/filters"
	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/scanner"
)

// ErrRepairFailed is returned when a full scan finds no object headers.
var ErrRepairFailed = errors.New("repair failed: no objects found")

// Repair scans the whole file for "<num> <gen> obj" headers and trailer
// dictionaries. Later definitions win, matching incremental updates. Members
// of object streams found on the way are registered as compressed entries
// unless a direct definition exists.
func Repair(ctx context.Context, r io.ReaderAt, size int64, p *filters.Pipeline) (*Table, error) {
	if p == nil {
		p = filters.NewDefaultPipeline(filters.Limits{})
	}
	lenient := recovery.NewLenientStrategy()
	s := scanner.New(r, scanner.Config{Recovery: lenient})
	or := raw.NewObjectReader(s, 0, DirectLength).WithRecovery(lenient)
	table := newTable("repaired")
	var trailer, xrefDict *raw.DictObj
	var objStreams []int
	lastPos := int64(-1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := or.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !advance(or, s, &lastPos, size) {
				break
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			start := tok.Pos
			genTok, err := or.Next()
			if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				if err == nil {
					or.Unread(genTok)
				}
				continue
			}
			kw, err := or.Next()
			if err != nil || kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
				if err == nil {
					// genTok may itself start "n g obj"
					_ = or.SeekTo(genTok.Pos)
				}
				continue
			}
			num := int(tok.Int)
			table.set(num, Entry{Kind: EntryInUse, Offset: start, Gen: int(genTok.Int)})
			obj, err := or.ReadObject()
			if err != nil {
				_ = or.SeekTo(kw.Pos + int64(len(kw.Str)))
				continue
			}
			if st, ok := obj.(*raw.StreamObj); ok {
				switch name, _ := st.Dict.Name("Type"); name {
				case "ObjStm":
					objStreams = append(objStreams, num)
				case "XRef":
					xrefDict = st.Dict
				}
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := or.ReadObject()
			if err != nil {
				continue
			}
			if d, ok := obj.(*raw.DictObj); ok {
				trailer = d
			}
		}
	}

	if len(table.Objects()) == 0 {
		return nil, ErrRepairFailed
	}

	for _, num := range objStreams {
		registerObjectStream(ctx, r, table, num, p)
	}

	switch {
	case trailer != nil:
		table.mergeTrailer(trailer)
	case xrefDict != nil:
		table.mergeTrailer(xrefDict)
	}
	if _, ok := table.trailer.Get("Size"); !ok {
		table.trailer.Set("Size", raw.NumberInt(int64(len(table.entries))))
	}
	return table, nil
}

// advance moves past a token the scanner could not produce.
func advance(or *raw.ObjectReader, s scanner.Scanner, lastPos *int64, size int64) bool {
	pos := s.Position()
	if pos == *lastPos {
		pos++
	}
	*lastPos = pos
	if pos >= size {
		return false
	}
	return or.SeekTo(pos) == nil
}

func registerObjectStream(ctx context.Context, r io.ReaderAt, table *Table, num int, p *filters.Pipeline) {
	e, ok := table.Lookup(num)
	if !ok || e.Kind != EntryInUse {
		return
	}
	or := raw.NewObjectReader(scanner.New(r, scanner.Config{}), 0, DirectLength)
	if err := or.SeekTo(e.Offset); err != nil {
		return
	}
	_, obj, err := or.ReadIndirect()
	if err != nil {
		return
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return
	}
	data, err := decodeStream(ctx, p, st)
	if err != nil {
		return
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	members, err := ObjectStreamIndex(data, int(n), int(first))
	if err != nil {
		return
	}
	for i, m := range members {
		if cur, ok := table.Lookup(m.Num); ok && cur.Kind == EntryInUse {
			continue
		}
		table.set(m.Num, Entry{Kind: EntryCompressed, Stream: num, Index: i})
	}
}
