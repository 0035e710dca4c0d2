// Package mime fixes the small set of MIME types this library trades text
// under, the order in which to prefer them, and the line-ending cleanup
// applied to the conventional plain-text forms.
package mime

import "bytes"

// The four interchangeable spellings of "plain UTF-8 text" seen on Wayland
// clipboards. The first two are what modern toolkits offer; the last two
// are X11 atoms that survived the migration and are all some older clients
// understand.
const (
	PlainUTF8  = "text/plain;charset=utf-8"
	UTF8String = "UTF8_STRING"
	Plain      = "text/plain"
	XString    = "STRING"
)

// Offered is what our sources advertise, in announcement order.
var Offered = []string{PlainUTF8, UTF8String, Plain, XString}

// preference orders candidate types for reading someone else's offer, most
// explicit about its encoding first.
var preference = [...]string{PlainUTF8, UTF8String, Plain, XString}

// Select picks the type to request from an offer's advertised list, or
// false when the offer carries no text form we can read.
func Select(offered []string) (string, bool) {
	for _, want := range preference {
		for _, mt := range offered {
			if mt == want {
				return mt, true
			}
		}
	}
	return "", false
}

// Acceptable reports whether a transfer request names a type our sources
// advertise. Anything else gets an empty transfer.
func Acceptable(mt string) bool {
	for _, ours := range Offered {
		if mt == ours {
			return true
		}
	}
	return false
}

// Normalize rewrites CRLF and lone CR line endings to LF for the text/plain
// forms, which promise platform-neutral text. The *_STRING atoms carry
// whatever the owner had verbatim.
func Normalize(mt string, data []byte) []byte {
	if mt != Plain && mt != PlainUTF8 {
		return data
	}
	if !bytes.ContainsRune(data, '\r') {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' {
			out = append(out, '\n')
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			continue
		}
		out = append(out, data[i])
	}
	return out
}
