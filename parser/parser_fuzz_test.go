package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/wudi/pdfdump/ir/raw"
	"github.com/wudi/pdfdump/recovery"
	"github.com/wudi/pdfdump/security"
)

// FuzzLoadAndWalk loads arbitrary input leniently and then visits every
// object number the way the dumper does: resolve, and for streams fetch
// both the filtered and the stored payload.
func FuzzLoadAndWalk(f *testing.F) {
	f.Add(buildClassicPDF())
	f.Add(buildIncrementalPDF())
	f.Add([]byte("%PDF-1.4\n1 0 obj\n<< /Length 5 /Foo bar /Filter /AHx >>\nstream\n6162>\nendstream\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF"))
	f.Add([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		ctx := context.Background()
		doc, err := Load(ctx, bytes.NewReader(data), Config{
			Recovery: recovery.NewLenientStrategy(),
			Limits:   security.Limits{MaxDecompressedSize: 1 << 20},
		})
		if err != nil {
			return
		}
		last := doc.LastObjectNumber()
		if last > 4096 {
			last = 4096
		}
		for n := 1; n <= last; n++ {
			if !doc.IsValidObjectNumber(n) {
				continue
			}
			obj, err := doc.Resolve(ctx, n)
			if err != nil {
				continue
			}
			st, ok := obj.(raw.Stream)
			if !ok {
				continue
			}
			stored, err := doc.RawBytes(ctx, st)
			if err != nil {
				t.Fatalf("object %d: raw bytes: %v", n, err)
			}
			if int64(len(stored)) != st.Length() {
				t.Fatalf("object %d: raw copy has %d bytes, stream holds %d", n, len(stored), st.Length())
			}
			_, _ = doc.FilteredBytes(ctx, st)
		}
	})
}
