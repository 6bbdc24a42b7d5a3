package dump

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfdump/ir/raw"
)

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "pdf_0005_0.dat", ArtifactName(5))
	assert.Equal(t, "pdf_0123_0.dat", ArtifactName(123))
	assert.Equal(t, "pdf_12345_0.dat", ArtifactName(12345))
}

func TestExtractChoosesPayload(t *testing.T) {
	eng := newFakeEngine()
	st := eng.addStream(1, raw.DictOf(raw.KV("Filter", name("FlateDecode"))), []byte("stored"), []byte("decoded payload"))
	x := NewExtractor(eng, t.TempDir(), false)
	ctx := context.Background()

	data, err := x.Extract(ctx, st, true)
	require.NoError(t, err)
	assert.Equal(t, "decoded payload", string(data))

	data, err = x.Extract(ctx, st, false)
	require.NoError(t, err)
	assert.Equal(t, "stored", string(data))
	assert.EqualValues(t, 1, eng.filteredCalls.Load())
	assert.EqualValues(t, 1, eng.rawCalls.Load())
}

func TestExtractWrapsDecodeFailure(t *testing.T) {
	eng := newFakeEngine()
	st := eng.addStream(1, raw.Dict(), []byte("x"), nil)
	eng.failDecode[st] = true

	_, err := NewExtractor(eng, t.TempDir(), false).Extract(context.Background(), st, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, errFakeCorrupt))
}

func TestPersistWritesExactBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ArtifactName(7))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("z"), 64), 0o644))

	x := NewExtractor(newFakeEngine(), dir, true)
	data := []byte{0, 1, 2, 0xff}
	a, err := x.Persist(7, data, false)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got, "existing artifact must be replaced")
	assert.Equal(t, int64(4), a.Size)
	assert.Equal(t, "pdf_0007_0.dat", a.Name)
	assert.Equal(t, path, a.Path)
	assert.False(t, a.Filtered)

	sum := blake2b.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.Digest)
}

func TestPersistEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	a, err := NewExtractor(newFakeEngine(), dir, false).Persist(1, nil, true)
	require.NoError(t, err)
	assert.Zero(t, a.Size)
	assert.Empty(t, a.Digest)

	info, err := os.Stat(a.Path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestPersistUnwritableDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := NewExtractor(newFakeEngine(), dir, false).Persist(1, []byte("x"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifact))
}
