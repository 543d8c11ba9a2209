package salvage

import "unicode"

// Typographic double quotes. A run opened by smartOpen is treated as a string
// literal; closing is ambiguous and resolved by smartQuoteCloses.
const (
	smartOpen  = '“'
	smartClose = '”'
)

// scanState tracks quote and escape state during a single pass over text.
// It is rebuilt from scratch for every scan; nothing is shared between calls.
type scanState struct {
	inSingle bool
	inDouble bool
	inSmart  bool
	escaped  bool
}

// inString reports whether the scanner is inside any string literal run.
func (st scanState) inString() bool { return st.inSingle || st.inDouble || st.inSmart }

// advance returns the state after consuming the rune at index i. A backslash
// inside a string suppresses quote-state toggling for exactly the next rune.
func advance(st scanState, runes []rune, i int) scanState {
	r := runes[i]
	if st.escaped {
		st.escaped = false
		return st
	}
	if r == '\\' && st.inString() {
		st.escaped = true
		return st
	}
	switch {
	case st.inDouble:
		if r == '"' {
			st.inDouble = false
		}
	case st.inSingle:
		if r == '\'' {
			st.inSingle = false
		}
	case st.inSmart:
		if r == smartClose && smartQuoteCloses(runes, i) {
			st.inSmart = false
		}
	default:
		switch r {
		case '"':
			st.inDouble = true
		case '\'':
			st.inSingle = true
		case smartOpen:
			st.inSmart = true
		}
	}
	return st
}

// scan walks runes and calls visit for each index with the state as it was
// before the rune is consumed. Quote delimiters are therefore seen with
// inString()==false when they open a run and with the run active when they
// close it.
func scan(runes []rune, visit func(i int, r rune, st scanState)) {
	var st scanState
	for i, r := range runes {
		visit(i, r, st)
		st = advance(st, runes, i)
	}
}

// smartQuoteCloses decides whether the smart quote at index i closes the
// current smart-quoted run or is an inner typographic quote. Lookahead rules:
// a structural closer means closing; a comma followed by something that can
// start a key means the quote closed a field; a colon followed by something
// that can start a value means the quote closed a key; end of text closes.
// Any unresolved ambiguity leaves the run open: under-closing can only fail a
// later parse, over-closing corrupts string content.
func smartQuoteCloses(runes []rune, i int) bool {
	j := skipSpace(runes, i+1)
	if j >= len(runes) {
		return true
	}
	switch runes[j] {
	case '}', ']':
		return true
	case ',':
		k := skipSpace(runes, j+1)
		if k >= len(runes) {
			return true
		}
		return canStartKey(runes, k)
	case ':':
		k := skipSpace(runes, j+1)
		if k >= len(runes) {
			return true
		}
		return canStartValue(runes[k])
	}
	return false
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

// canStartKey reports whether the rune at index i can begin an object key:
// an identifier start, a quote character, or a digit whose run is eventually
// followed by a colon (bare numeric key).
func canStartKey(runes []rune, i int) bool {
	r := runes[i]
	if unicode.IsLetter(r) || r == '_' || r == '$' {
		return true
	}
	if r == '"' || r == '\'' || r == smartOpen || r == smartClose {
		return true
	}
	if unicode.IsDigit(r) {
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		j = skipSpace(runes, j)
		return j < len(runes) && runes[j] == ':'
	}
	return false
}

// canStartValue reports whether r can begin a JSON value.
func canStartValue(r rune) bool {
	switch r {
	case '"', '\'', smartOpen, '{', '[', '-', 't', 'f', 'n':
		return true
	}
	return unicode.IsDigit(r)
}

// isIdentRune reports whether r may appear in a bare identifier key.
func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}
