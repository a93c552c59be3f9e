package terminal

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// newDecodingReader wraps r so reads always return valid UTF-8. The decoder
// carries partial multi-byte sequences across reads — a rune split exactly
// on a chunk boundary is reconstructed losslessly — and substitutes U+FFFD
// for undecodable bytes rather than failing.
func newDecodingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8.NewDecoder().Transformer)
}
