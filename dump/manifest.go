package dump

import (
	"encoding/json"
	"io"
)

// ManifestRecord is one JSON line of a run manifest.
type ManifestRecord struct {
	Object   int    `json:"object"`
	Artifact string `json:"artifact"`
	Bytes    int64  `json:"bytes"`
	Filtered bool   `json:"filtered"`
	BLAKE2b  string `json:"blake2b"`
}

// Manifest writes one record per artifact as JSON lines.
type Manifest struct {
	enc *json.Encoder
}

func NewManifest(w io.Writer) *Manifest {
	return &Manifest{enc: json.NewEncoder(w)}
}

func (m *Manifest) Add(a Artifact) error {
	return m.enc.Encode(ManifestRecord{
		Object:   a.Object,
		Artifact: a.Name,
		Bytes:    a.Size,
		Filtered: a.Filtered,
		BLAKE2b:  a.Digest,
	})
}
