package recovery_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfdump/parser"
	"github.com/wudi/pdfdump/recovery"
)

func TestRecoveryStrategies(t *testing.T) {
	// The startxref offset points into the middle of object 2, so the
	// cross-reference chain cannot be followed.
	brokenPDFData := []byte(`%PDF-1.7
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [] /Count 0 >>
endobj
3 0 obj
<< /Length 5 >>
stream
hello
endstream
endobj
trailer
<< /Size 4 /Root 1 0 R >>
startxref
60
%%EOF`)

	t.Run("StrictStrategy", func(t *testing.T) {
		cfg := parser.Config{
			Recovery: recovery.NewStrictStrategy(),
		}
		_, err := parser.NewDocumentParser(cfg).Parse(context.Background(), bytes.NewReader(brokenPDFData))
		if err == nil {
			t.Fatal("Expected error with StrictStrategy, got nil")
		}
		if !errors.Is(err, parser.ErrNoXRef) {
			t.Fatalf("Expected ErrNoXRef, got %v", err)
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		rec := recovery.NewLenientStrategy()
		cfg := parser.Config{
			Recovery: rec,
		}
		doc, err := parser.NewDocumentParser(cfg).Parse(context.Background(), bytes.NewReader(brokenPDFData))
		if err != nil {
			t.Fatalf("Expected success with LenientStrategy, got error: %v", err)
		}
		if doc.LastObjectNumber() != 3 {
			t.Fatalf("Expected repaired table to reach object 3, got %d", doc.LastObjectNumber())
		}
		if len(rec.Errors()) == 0 {
			t.Fatal("Expected LenientStrategy to record the xref failure")
		}
	})
}

func TestTolerant(t *testing.T) {
	err := errors.New("boom")
	loc := recovery.Location{Component: "test"}
	if recovery.Tolerant(nil, nil, err, loc) {
		t.Fatal("nil strategy must not tolerate errors")
	}
	if recovery.Tolerant(recovery.NewStrictStrategy(), nil, err, loc) {
		t.Fatal("strict strategy must not tolerate errors")
	}
	rec := recovery.NewLenientStrategy()
	if !recovery.Tolerant(rec, nil, err, loc) {
		t.Fatal("lenient strategy should tolerate errors")
	}
	got := rec.Errors()
	if len(got) != 1 || !errors.Is(got[0], err) {
		t.Fatalf("Expected recorded error wrapping boom, got %v", got)
	}
}

func TestLocationString(t *testing.T) {
	cases := []struct {
		loc  recovery.Location
		want string
	}{
		{recovery.Location{Component: "xref", ByteOffset: 12}, "xref @12"},
		{recovery.Location{Component: "loader", ObjectNum: 4, ObjectGen: 1, ByteOffset: 99}, "loader obj 4 1 @99"},
	}
	for _, c := range cases {
		if got := c.loc.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
	if recovery.ActionWarn.String() != "warn" || recovery.Action(9).String() != "action(9)" {
		t.Error("unexpected Action strings")
	}
}
