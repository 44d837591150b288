package metadata

import "unicode/utf8"

// MaxCommentLength is the number of bytes of an allocation comment that are kept
const MaxCommentLength = 20

// Comment is a fixed-capacity allocation label. Longer text is cut at MaxCommentLength bytes,
// backing off to the previous rune boundary so the result stays valid UTF-8.
type Comment struct {
	text   [MaxCommentLength]byte
	length uint8
}

func NewComment(text string) Comment {
	var c Comment

	if len(text) > MaxCommentLength {
		cut := MaxCommentLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	c.length = uint8(copy(c.text[:], text))
	return c
}

func (c Comment) String() string {
	return string(c.text[:c.length])
}
