package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Normalize converts CRLF and lone CR line endings to LF so that the same
// document saved by different editors hashes identically.
func Normalize(data []byte) []byte {
	if !bytes.ContainsRune(data, '\r') {
		return data
	}
	out := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
}

// Content returns the digest of normalized source bytes combined with the
// digests of everything the rendered output depends on (template sets).
func Content(source []byte, deps ...string) string {
	h := sha256.New()
	h.Write(Normalize(source))
	for _, d := range deps {
		h.Write([]byte{0})
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}
