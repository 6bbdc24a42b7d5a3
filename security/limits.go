package security

import "time"

// Limits defines resource boundaries for parsing and decoding PDFs.
// They keep a hostile file (zip bombs, deep nesting, endless xref chains)
// from exhausting memory or time.
type Limits struct {
	// Maximum decompressed stream size. Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum nesting of arrays and dictionaries. Default: 100.
	MaxIndirectDepth int

	// Maximum XRef chain depth (Prev entries). Default: 50.
	MaxXRefDepth int

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64

	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024, // 100 MB
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxStringLength:     10 * 1024 * 1024, // 10 MB
		MaxStreamLength:     50 * 1024 * 1024, // 50 MB
		MaxDecodeTime:       30 * time.Second,
	}
}

// WithDefaults fills every zero field from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxDecompressedSize == 0 {
		l.MaxDecompressedSize = def.MaxDecompressedSize
	}
	if l.MaxIndirectDepth == 0 {
		l.MaxIndirectDepth = def.MaxIndirectDepth
	}
	if l.MaxXRefDepth == 0 {
		l.MaxXRefDepth = def.MaxXRefDepth
	}
	if l.MaxStringLength == 0 {
		l.MaxStringLength = def.MaxStringLength
	}
	if l.MaxStreamLength == 0 {
		l.MaxStreamLength = def.MaxStreamLength
	}
	if l.MaxDecodeTime == 0 {
		l.MaxDecodeTime = def.MaxDecodeTime
	}
	return l
}
