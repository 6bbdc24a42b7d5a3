package dump

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/wudi/pdfdump/ir/raw"
)

var errFakeCorrupt = errors.New("corrupt filter data")

// fakeEngine serves a synthetic object table. It is read-only after
// construction, so it may be shared by concurrent workers.
type fakeEngine struct {
	last       int
	objects    map[int]raw.Object
	invalid    map[int]bool
	resolveErr map[int]error
	filtered   map[raw.Stream][]byte
	failDecode map[raw.Stream]bool
	failRaw    map[raw.Stream]bool

	filteredCalls atomic.Int64
	rawCalls      atomic.Int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		objects:    make(map[int]raw.Object),
		invalid:    make(map[int]bool),
		resolveErr: make(map[int]error),
		filtered:   make(map[raw.Stream][]byte),
		failDecode: make(map[raw.Stream]bool),
		failRaw:    make(map[raw.Stream]bool),
	}
}

// addStream registers a stream with its stored bytes and the bytes the
// filter chain would produce.
func (f *fakeEngine) addStream(num int, dict *raw.DictObj, stored, decoded []byte) *raw.StreamObj {
	st := raw.NewStream(dict, stored)
	f.add(num, st)
	f.filtered[st] = decoded
	return st
}

func (f *fakeEngine) add(num int, obj raw.Object) {
	f.objects[num] = obj
	if num > f.last {
		f.last = num
	}
}

func (f *fakeEngine) LastObjectNumber() int { return f.last }

func (f *fakeEngine) IsValidObjectNumber(n int) bool {
	if f.invalid[n] {
		return false
	}
	if _, ok := f.resolveErr[n]; ok {
		return true
	}
	_, ok := f.objects[n]
	return ok
}

func (f *fakeEngine) Resolve(ctx context.Context, n int) (raw.Object, error) {
	if err, ok := f.resolveErr[n]; ok {
		return nil, err
	}
	obj, ok := f.objects[n]
	if !ok {
		return nil, fmt.Errorf("object %d missing", n)
	}
	return obj, nil
}

func (f *fakeEngine) FilteredBytes(ctx context.Context, st raw.Stream) ([]byte, error) {
	f.filteredCalls.Add(1)
	if f.failDecode[st] {
		return nil, errFakeCorrupt
	}
	if data, ok := f.filtered[st]; ok {
		return append([]byte(nil), data...), nil
	}
	return append([]byte(nil), st.RawData()...), nil
}

func (f *fakeEngine) RawBytes(ctx context.Context, st raw.Stream) ([]byte, error) {
	f.rawCalls.Add(1)
	if f.failRaw[st] {
		return nil, errFakeCorrupt
	}
	return append([]byte(nil), st.RawData()...), nil
}

func name(v string) raw.NameObj { return raw.NameLiteral(v) }

func num(i int64) raw.NumberObj { return raw.NumberInt(i) }
