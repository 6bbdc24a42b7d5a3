package dump

// undecodable lists the image codecs whose decoded form is not a useful flat
// byte dump. Streams using any of them are written raw.
var undecodable = map[string]struct{}{
	"DCTDecode":      {},
	"JPXDecode":      {},
	"CCITTFaxDecode": {},
}

// IsDecodeSafe reports whether a stream filtered with name may have its
// filter chain reversed before extraction.
func IsDecodeSafe(name string) bool {
	_, skip := undecodable[name]
	return !skip
}
