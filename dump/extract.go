package dump

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfdump/ir/raw"
)

// Artifact describes one written payload file.
type Artifact struct {
	Object   int
	Name     string
	Path     string
	Size     int64
	Filtered bool
	Digest   string
}

// ArtifactName returns the file name used for object num.
func ArtifactName(num int) string {
	return fmt.Sprintf("pdf_%04d_0.dat", num)
}

// Extractor fetches stream payloads from the engine and persists them.
type Extractor struct {
	engine Engine
	outDir string
	digest bool
}

// NewExtractor writes artifacts into outDir ("." when empty). When digest is
// set each Artifact carries the BLAKE2b-256 of its contents.
func NewExtractor(engine Engine, outDir string, digest bool) *Extractor {
	if outDir == "" {
		outDir = "."
	}
	return &Extractor{engine: engine, outDir: outDir, digest: digest}
}

// Extract returns the filtered payload when decode is set and the stored
// payload otherwise.
func (x *Extractor) Extract(ctx context.Context, st raw.Stream, decode bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if decode {
		data, err = x.engine.FilteredBytes(ctx, st)
	} else {
		data, err = x.engine.RawBytes(ctx, st)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return data, nil
}

// Persist writes data to the artifact for num, replacing any existing file.
// Exactly len(data) bytes are written.
func (x *Extractor) Persist(num int, data []byte, filtered bool) (Artifact, error) {
	name := ArtifactName(num)
	a := Artifact{
		Object:   num,
		Name:     name,
		Path:     filepath.Join(x.outDir, name),
		Size:     int64(len(data)),
		Filtered: filtered,
	}
	f, err := os.Create(a.Path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %w", ErrArtifact, a.Path, werr)
	}
	if cerr != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %w", ErrArtifact, a.Path, cerr)
	}
	if x.digest {
		sum := blake2b.Sum256(data)
		a.Digest = hex.EncodeToString(sum[:])
	}
	return a, nil
}
