package chef

import (
	"fmt"
	"strings"
	"time"
)

const (
	// maxBlockScan caps how far past the opener a single match may scan.
	maxBlockScan = 64 * 1024

	// blockScanBudget is the wall-clock budget for one match call.
	blockScanBudget = 250 * time.Millisecond

	// deadline checks are amortized over this many scanned bytes.
	clockCheckStride = 2048
)

// MatchDoEnd returns the offset of the `end` keyword that structurally
// closes the `do` keyword starting at openOff. Keywords inside string
// literals and comments are ignored, and nested do/end pairs are
// tracked by depth. The scan is bounded both in length and wall-clock
// time, so pathological input fails fast instead of spinning.
func MatchDoEnd(src string, openOff int) (int, error) {
	if !hasWordAt(src, openOff, "do") {
		return 0, fmt.Errorf("offset %d does not start a do block", openOff)
	}
	return matchKeywordBlock(src, openOff)
}

// MatchBrace returns the offset of the `}` that closes the `{` at
// openOff, with the same quote handling and bounds as MatchDoEnd.
func MatchBrace(src string, openOff int) (int, error) {
	return matchDelim(src, openOff, '{', '}')
}

// matchDelim matches single-byte paired delimiters ({} or []) with
// quote tracking and the same length/time bounds as keyword blocks.
func matchDelim(src string, openOff int, open, closer byte) (int, error) {
	if openOff >= len(src) || src[openOff] != open {
		return 0, fmt.Errorf("offset %d does not start a %c block", openOff, open)
	}
	deadline := time.Now().Add(blockScanBudget)
	limit := openOff + maxBlockScan
	if limit > len(src) {
		limit = len(src)
	}

	var st quoteState
	depth := 0
	for i := openOff; i < limit; i++ {
		if (i-openOff)%clockCheckStride == 0 && time.Now().After(deadline) {
			return 0, fmt.Errorf("%c block at offset %d: %w", open, openOff, ErrParseTimeout)
		}
		c := src[i]
		if st.consume(src, i) {
			continue
		}
		switch c {
		case '#':
			i = skipLineComment(src, i)
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%c block at offset %d: %w", open, openOff, ErrUnterminatedBlock)
}

// matchKeywordBlock scans forward tracking do/end depth.
func matchKeywordBlock(src string, openOff int) (int, error) {
	deadline := time.Now().Add(blockScanBudget)
	limit := openOff + maxBlockScan
	if limit > len(src) {
		limit = len(src)
	}

	var st quoteState
	depth := 0
	for i := openOff; i < limit; i++ {
		if (i-openOff)%clockCheckStride == 0 && time.Now().After(deadline) {
			return 0, fmt.Errorf("do block at offset %d: %w", openOff, ErrParseTimeout)
		}
		if st.consume(src, i) {
			continue
		}
		c := src[i]
		if c == '#' {
			i = skipLineComment(src, i)
			continue
		}
		if !isWordStart(src, i) {
			continue
		}
		switch {
		case hasWordAt(src, i, "do"):
			depth++
			i++ // past "do"
		case hasWordAt(src, i, "end"):
			depth--
			if depth == 0 {
				return i, nil
			}
			i += 2 // past "end"
		}
	}
	if limit < openOff+maxBlockScan {
		return 0, fmt.Errorf("do block at offset %d: %w", openOff, ErrUnterminatedBlock)
	}
	return 0, fmt.Errorf("do block at offset %d exceeds %d bytes: %w", openOff, maxBlockScan, ErrUnterminatedBlock)
}

// quoteState tracks single/double-quoted string spans so that block
// tokens inside literals are ignored.
type quoteState struct {
	inSingle bool
	inDouble bool
}

// consume processes src[i] and reports whether the byte belongs to a
// string literal (including its delimiters).
func (st *quoteState) consume(src string, i int) bool {
	c := src[i]
	switch {
	case st.inSingle:
		if c == '\'' && !isEscaped(src, i) {
			st.inSingle = false
		}
		return true
	case st.inDouble:
		if c == '"' && !isEscaped(src, i) {
			st.inDouble = false
		}
		return true
	case c == '\'':
		st.inSingle = true
		return true
	case c == '"':
		st.inDouble = true
		return true
	}
	return false
}

// isEscaped reports whether src[i] is preceded by an odd number of
// backslashes.
func isEscaped(src string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && src[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// skipLineComment returns the index of the newline ending the comment
// starting at i, or the last index of src.
func skipLineComment(src string, i int) int {
	if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j
	}
	return len(src) - 1
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isWordStart reports whether a keyword may begin at offset i.
func isWordStart(src string, i int) bool {
	if !isIdentByte(src[i]) {
		return false
	}
	return i == 0 || !isIdentByte(src[i-1])
}

// hasWordAt reports whether the exact word appears at offset i with a
// word boundary on both sides.
func hasWordAt(src string, i int, word string) bool {
	if i < 0 || i+len(word) > len(src) {
		return false
	}
	if src[i:i+len(word)] != word {
		return false
	}
	if i > 0 && isIdentByte(src[i-1]) {
		return false
	}
	end := i + len(word)
	if end < len(src) && (isIdentByte(src[end]) || src[end] == '?' || src[end] == '!') {
		return false
	}
	return true
}
