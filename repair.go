package salvage

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// RepairResult is one candidate JSON string plus whether any transform fired.
type RepairResult struct {
	Text     string
	Repaired bool
}

type repairStep struct {
	name string
	fn   func(string) string
}

// The pipeline order is load-bearing: smart quotes must be normalized before
// comment and constant removal so string detection in later steps is accurate,
// and quote unification must precede key quoting.
var repairSteps = []repairStep{
	{"unwrap_quoted", unwrapQuotedJSON},
	{"code_fence", extractCodeFence},
	{"jsonp", unwrapJSONP},
	{"smart_quotes", normalizeSmartQuotes},
	{"comments", stripComments},
	{"python_constants", replacePythonConstants},
	{"quote_style", unifyQuoteStyle},
	{"bare_keys", quoteBareKeys},
	{"commas", cleanCommas},
	{"whitespace", normalizeWhitespace},
	{"ellipsis", removeEllipsis},
	{"brackets", balanceBrackets},
}

// One transform can expose work for an earlier one (a smart-quoted wrapper
// only becomes unwrappable after quote normalization), so the pipeline runs
// to a fixpoint. Real inputs settle in one or two passes; the cap only guards
// against pathological oscillation.
const maxRepairPasses = 6

// Repair runs the full pipeline to a fixpoint and reports whether any
// transform changed the text. Re-running on already repaired text produces no
// further changes.
func Repair(text string) RepairResult {
	out := text
	for pass := 0; pass < maxRepairPasses; pass++ {
		prev := out
		for _, step := range repairSteps {
			out = step.fn(out)
		}
		if out == prev {
			break
		}
	}
	return RepairResult{Text: out, Repaired: out != text}
}

// RepairText returns the first candidate produced during repair that parses as
// strict JSON. A strict parse is attempted before the pipeline and after every
// stage; when all stages fail, the first brace/bracket-delimited substring is
// extracted and given minimal comma/quote/key fixes before a final attempt.
// ok is false when the text is unrepairable.
func RepairText(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if parsesAsJSON(t) && !quotedStructure(t) {
		return t, true
	}
	out := t
	for pass := 0; pass < maxRepairPasses; pass++ {
		prev := out
		for _, step := range repairSteps {
			out = step.fn(out)
			if parsesAsJSON(out) {
				return strings.TrimSpace(out), true
			}
		}
		if out == prev {
			break
		}
	}
	if sub, ok := extractFirstStructure(out); ok {
		return sub, true
	}
	return "", false
}

func parsesAsJSON(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(t), &v) == nil
}

// quotedStructure reports whether s is a valid JSON string whose own content
// is shaped like an object or array — double-encoded JSON that should be
// unwrapped rather than accepted as a bare string.
func quotedStructure(s string) bool {
	var inner string
	if json.Unmarshal([]byte(strings.TrimSpace(s)), &inner) != nil {
		return false
	}
	inner = strings.TrimSpace(inner)
	if len(inner) < 2 {
		return false
	}
	first, last := inner[0], inner[len(inner)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

// unwrapQuotedJSON replaces the text with its inner content when the entire
// trimmed text is a single- or double-quoted string wrapping an object/array.
func unwrapQuotedJSON(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return s
	}
	q := t[0]
	if (q != '"' && q != '\'') || t[len(t)-1] != q {
		return s
	}
	var inner string
	if q == '"' {
		var decoded string
		if err := json.Unmarshal([]byte(t), &decoded); err == nil {
			inner = decoded
		} else {
			inner = manualUnescape(t[1 : len(t)-1])
		}
	} else {
		inner = manualUnescape(t[1 : len(t)-1])
	}
	inner = strings.TrimSpace(inner)
	if len(inner) < 2 {
		return s
	}
	first, last := inner[0], inner[len(inner)-1]
	shaped := (first == '{' && last == '}') || (first == '[' && last == ']')
	if shaped || parsesAsJSON(inner) {
		return inner
	}
	return s
}

// manualUnescape removes one layer of backslash escaping. Unknown escapes are
// preserved so inner \uXXXX sequences survive for the strict parser.
func manualUnescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '"', '\'', '\\', '/':
			b.WriteByte(s[i])
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

var fenceRE = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(.*?)```")

// extractCodeFence pulls the first ```json fenced block if present. An
// unterminated ```json fence is taken to the end of the text.
func extractCodeFence(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body
		}
	}
	t := strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON"} {
		if strings.HasPrefix(t, prefix) {
			body := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(t, prefix)), "```")
			if body = strings.TrimSpace(body); body != "" {
				return body
			}
		}
	}
	return s
}

var jsonpRE = regexp.MustCompile(`(?s)^\s*[A-Za-z_$][A-Za-z0-9_$.]*\s*\((.*)\)\s*;?\s*$`)

// unwrapJSONP strips a leading identifier( / trailing ); wrapper.
func unwrapJSONP(s string) string {
	m := jsonpRE.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	inner := strings.TrimSpace(m[1])
	if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
		return inner
	}
	return s
}

// normalizeSmartQuotes converts typographic quote delimiters and stray
// typographic quotes outside any string to canonical ASCII quotes. Inner
// typographic quotes inside string runs are literal content and stay.
func normalizeSmartQuotes(s string) string {
	if !strings.ContainsAny(s, "“”‘’") {
		return s
	}
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	var st scanState
	for i, r := range runes {
		cur := st
		st = advance(cur, runes, i)
		switch r {
		case smartOpen:
			if !cur.inString() {
				out = append(out, '"')
				continue
			}
		case smartClose:
			if (cur.inSmart && !st.inSmart) || !cur.inString() {
				out = append(out, '"')
				continue
			}
		case '‘', '’':
			if !cur.inString() {
				out = append(out, '\'')
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}

// stripComments removes /* */ blocks everywhere outside strings and // line
// comments from the first occurrence outside a string to end-of-line.
func stripComments(s string) string {
	if !strings.Contains(s, "/*") && !strings.Contains(s, "//") {
		return s
	}
	runes := []rune(s)
	var out []rune
	var st scanState
	for i := 0; i < len(runes); {
		r := runes[i]
		if !st.inString() && r == '/' && i+1 < len(runes) {
			if runes[i+1] == '*' {
				end := -1
				for j := i + 2; j+1 < len(runes); j++ {
					if runes[j] == '*' && runes[j+1] == '/' {
						end = j + 1
						break
					}
				}
				if end < 0 {
					break // unterminated block comment swallows the rest
				}
				i = end + 1
				continue
			}
			if runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				continue
			}
		}
		out = append(out, r)
		st = advance(st, runes, i)
		i++
	}
	return string(out)
}

// replacePythonConstants substitutes bare None/True/False tokens outside
// string runs with their JSON equivalents, word-boundary matched.
func replacePythonConstants(s string) string {
	if !strings.Contains(s, "None") && !strings.Contains(s, "True") && !strings.Contains(s, "False") {
		return s
	}
	runes := []rune(s)
	var out []rune
	var st scanState
	for i := 0; i < len(runes); {
		r := runes[i]
		var word, repl string
		switch r {
		case 'N':
			word, repl = "None", "null"
		case 'T':
			word, repl = "True", "true"
		case 'F':
			word, repl = "False", "false"
		}
		if word != "" && !st.inString() && (i == 0 || !isIdentRune(runes[i-1])) {
			w := len(word)
			if i+w <= len(runes) && string(runes[i:i+w]) == word &&
				(i+w == len(runes) || !isIdentRune(runes[i+w])) {
				out = append(out, []rune(repl)...)
				for k := 0; k < w; k++ {
					st = advance(st, runes, i+k)
				}
				i += w
				continue
			}
		}
		out = append(out, r)
		st = advance(st, runes, i)
		i++
	}
	return string(out)
}

// unifyQuoteStyle converts single-quoted strings to double-quoted ones,
// escaping embedded double quotes and un-escaping \' sequences. Single quotes
// inside an active double-quoted run are content and stay. An unterminated
// single quote is left alone rather than guessing where it would close.
func unifyQuoteStyle(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	runes := []rune(s)
	var out []rune
	inDouble, escaped := false, false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inDouble {
			out = append(out, r)
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == '"' {
				inDouble = false
			}
			continue
		}
		if r == '"' {
			inDouble = true
			out = append(out, r)
			continue
		}
		if r != '\'' {
			out = append(out, r)
			continue
		}
		end := findSingleQuoteEnd(runes, i+1)
		if end < 0 {
			out = append(out, r)
			continue
		}
		out = append(out, '"')
		for j := i + 1; j < end; j++ {
			c := runes[j]
			if c == '\\' && j+1 <= end {
				next := runes[j+1]
				switch next {
				case '\'':
					out = append(out, '\'')
				default:
					out = append(out, '\\', next)
				}
				j++
				continue
			}
			if c == '"' {
				out = append(out, '\\', '"')
				continue
			}
			out = append(out, c)
		}
		out = append(out, '"')
		i = end
	}
	return string(out)
}

func findSingleQuoteEnd(runes []rune, i int) int {
	escaped := false
	for ; i < len(runes); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch runes[i] {
		case '\\':
			escaped = true
		case '\'':
			return i
		}
	}
	return -1
}

// quoteBareKeys wraps bare identifier or bare numeric object keys in double
// quotes. A key position is a token after { or , (outside strings) whose next
// significant character is a colon.
func quoteBareKeys(s string) string {
	runes := []rune(s)
	var out []rune
	var st scanState
	lastSig := rune(0)
	for i := 0; i < len(runes); {
		cur := st
		r := runes[i]
		if !cur.inString() && (lastSig == '{' || lastSig == ',') && isIdentRune(r) {
			j := i
			for j < len(runes) && (isIdentRune(runes[j]) || runes[j] == '.') {
				j++
			}
			if k := skipSpace(runes, j); k < len(runes) && runes[k] == ':' {
				out = append(out, '"')
				out = append(out, runes[i:j]...)
				out = append(out, '"')
				for m := i; m < j; m++ {
					st = advance(st, runes, m)
				}
				lastSig = '"'
				i = j
				continue
			}
		}
		out = append(out, r)
		if !cur.inString() && !unicode.IsSpace(r) {
			lastSig = r
		}
		st = advance(st, runes, i)
		i++
	}
	return string(out)
}

// cleanCommas deletes commas immediately before a closing brace/bracket,
// immediately after an opening one, duplicated, or dangling at end of text.
func cleanCommas(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	runes := []rune(s)
	var out []rune
	var st scanState
	lastSig := rune(0)
	for i := 0; i < len(runes); i++ {
		cur := st
		st = advance(cur, runes, i)
		r := runes[i]
		if !cur.inString() && r == ',' {
			if lastSig == '{' || lastSig == '[' || lastSig == ',' {
				continue
			}
			j := skipSpace(runes, i+1)
			if j >= len(runes) || runes[j] == '}' || runes[j] == ']' {
				continue
			}
		}
		out = append(out, r)
		if !cur.inString() && !unicode.IsSpace(r) {
			lastSig = r
		}
	}
	return string(out)
}

// normalizeWhitespace replaces Unicode space variants outside strings with
// ASCII space. Spaces inside string literals are content and stay.
func normalizeWhitespace(s string) string {
	exotic := func(r rune) bool {
		return (r > 0x7F && unicode.IsSpace(r)) || r == '\u200b' || r == '\ufeff'
	}
	if !strings.ContainsFunc(s, exotic) {
		return s
	}
	runes := []rune(s)
	out := make([]rune, len(runes))
	var st scanState
	for i, r := range runes {
		cur := st
		st = advance(cur, runes, i)
		if !cur.inString() && exotic(r) {
			out[i] = ' '
		} else {
			out[i] = r
		}
	}
	return string(out)
}

// removeEllipsis strips "..." placeholder fragments (and a preceding list
// comma) a model may emit mid-structure, outside strings only.
func removeEllipsis(s string) string {
	if !strings.Contains(s, "...") && !strings.Contains(s, "…") {
		return s
	}
	runes := []rune(s)
	var out []rune
	var st scanState
	for i := 0; i < len(runes); {
		r := runes[i]
		ellLen := 0
		if !st.inString() {
			if r == '…' {
				ellLen = 1
			} else if r == '.' && i+2 < len(runes) && runes[i+1] == '.' && runes[i+2] == '.' {
				ellLen = 3
				for i+ellLen < len(runes) && runes[i+ellLen] == '.' {
					ellLen++
				}
			}
		}
		if ellLen > 0 {
			k := len(out) - 1
			for k >= 0 && unicode.IsSpace(out[k]) {
				k--
			}
			if k >= 0 && out[k] == ',' {
				out = out[:k]
			}
			for n := 0; n < ellLen; n++ {
				st = advance(st, runes, i+n)
			}
			i += ellLen
			continue
		}
		out = append(out, r)
		st = advance(st, runes, i)
		i++
	}
	return string(out)
}

// balanceBrackets appends the closers for unmatched { and [ in nesting order.
// An unterminated string literal is closed first so the appended closers are
// structural rather than string content.
func balanceBrackets(s string) string {
	runes := []rune(s)
	var stack []rune
	var st scanState
	for i, r := range runes {
		cur := st
		st = advance(cur, runes, i)
		if cur.inString() {
			continue
		}
		switch r {
		case '{', '[':
			stack = append(stack, r)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return s
	}
	out := []rune(s)
	if st.inString() && !st.escaped {
		switch {
		case st.inDouble:
			out = append(out, '"')
		case st.inSingle:
			out = append(out, '\'')
		case st.inSmart:
			out = append(out, smartClose)
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return string(out)
}

// extractFirstStructure pulls the first balanced brace/bracket-delimited
// substring (string-aware) and re-applies the quote, key, comma, and balance
// fixes to that substring alone.
func extractFirstStructure(s string) (string, bool) {
	runes := []rune(s)
	start := -1
	var st scanState
	for i := 0; i < len(runes); i++ {
		if !st.inString() && (runes[i] == '{' || runes[i] == '[') {
			start = i
			break
		}
		st = advance(st, runes, i)
	}
	if start < 0 {
		return "", false
	}
	depth, end := 0, -1
	st = scanState{}
	for i := start; i < len(runes) && end < 0; i++ {
		cur := st
		st = advance(cur, runes, i)
		if cur.inString() {
			continue
		}
		switch runes[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
	}
	var sub string
	if end >= 0 {
		sub = string(runes[start : end+1])
	} else {
		sub = string(runes[start:])
	}
	for _, fix := range []func(string) string{unifyQuoteStyle, quoteBareKeys, cleanCommas, balanceBrackets} {
		sub = fix(sub)
	}
	if parsesAsJSON(sub) {
		return strings.TrimSpace(sub), true
	}
	return "", false
}
