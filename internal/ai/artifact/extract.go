package artifact

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Source records which selection rule produced the JSON candidate.
type Source string

const (
	SourceFence     Source = "fence"
	SourceOpenFence Source = "open_fence"
	SourceMarker    Source = "marker"
	SourceBrace     Source = "brace"
	SourceRaw       Source = "raw"
)

// Result is the outcome of Extract.
//
// Clean is false only on the degraded path, where Err holds the parse failure.
// Repaired reports that the candidate needed the repair pass before parsing.
type Result struct {
	Artifact Artifact
	Clean    bool
	Source   Source
	Repaired bool
	Err      error
}

const (
	degradedSummaryRunes = 500
	maxRepairRounds      = 16
)

var degradedRisk = Risk{
	Description: "The analysis output could not be parsed into a structured result; the summary holds the raw model text.",
	Severity:    "high",
	Mitigation:  "Review the raw output manually or re-run the analysis.",
}

var (
	reOpenFence   = regexp.MustCompile("```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?")
	reFieldMarker = regexp.MustCompile(`\{\s*"(?:task_type|summary|analysis)"\s*:`)
)

var errNotObject = errors.New("candidate is not a JSON object")

// Extract recovers an Artifact from model output. It never fails: when no
// candidate can be parsed the degraded artifact is returned with Clean=false.
func Extract(text string) Result {
	candidate, src := selectCandidate(text)
	candidate = trimTrailingProse(candidate)

	repaired := false
	if !json.Valid([]byte(candidate)) {
		candidate = Repair(candidate)
		repaired = true
	}

	var m map[string]any
	err := json.Unmarshal([]byte(candidate), &m)
	if err == nil && m == nil {
		err = errNotObject
	}
	if err != nil {
		return Result{Artifact: degraded(text), Clean: false, Source: src, Repaired: repaired, Err: err}
	}
	a := fromMap(m)
	a.fillDefaults()
	return Result{Artifact: a, Clean: true, Source: src, Repaired: repaired}
}

func degraded(text string) Artifact {
	a := Default()
	a.Summary = truncateRunes(strings.TrimSpace(text), degradedSummaryRunes)
	a.Risks = []Risk{degradedRisk}
	a.Metadata.Confidence = "low"
	return a
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// selectCandidate picks the JSON candidate, in priority order: a complete
// fenced block, an unterminated fence, a leading field marker, the first
// brace, the whole text.
func selectCandidate(text string) (string, Source) {
	if c, src, ok := fencedCandidate(text); ok {
		return c, src
	}
	if loc := reFieldMarker.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[0]:]), SourceMarker
	}
	if i := strings.IndexByte(text, '{'); i >= 0 {
		return strings.TrimSpace(text[i:]), SourceBrace
	}
	return strings.TrimSpace(text), SourceRaw
}

// fencedCandidate walks the fences in order. A body may itself contain
// fences inside JSON strings, so each closing fence is tried until the body
// parses; otherwise the first body holding a brace wins.
func fencedCandidate(text string) (string, Source, bool) {
	offset := 0
	for {
		loc := reOpenFence.FindStringIndex(text[offset:])
		if loc == nil {
			return "", "", false
		}
		start := offset + loc[1]
		ends := fenceIndexes(text[start:])
		if len(ends) == 0 {
			return strings.TrimSpace(text[start:]), SourceOpenFence, true
		}
		for _, e := range ends {
			body := strings.TrimSpace(text[start : start+e])
			if strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
				return body, SourceFence, true
			}
		}
		first := strings.TrimSpace(text[start : start+ends[0]])
		if strings.Contains(first, "{") {
			return first, SourceFence, true
		}
		offset = start + ends[0] + len(fence)
	}
}

const fence = "```"

func fenceIndexes(s string) []int {
	var out []int
	for i := 0; ; {
		j := strings.Index(s[i:], fence)
		if j < 0 {
			return out
		}
		out = append(out, i+j)
		i += j + len(fence)
	}
}

// trimTrailingProse cuts anything after the first complete top-level value.
// Truncated candidates never close, so nothing is cut from them.
func trimTrailingProse(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return s
	}
	end := closingIndex(s)
	if end < 0 {
		return s
	}
	return s[:end+1]
}

// closingIndex returns the index of the byte closing the first top-level
// container, or -1 when it never closes.
func closingIndex(s string) int {
	var st scanState
	for i := 0; i < len(s); i++ {
		st.step(s, i)
		if st.opened && len(st.stack) == 0 {
			return i
		}
	}
	return -1
}

// frame is one open container on the scanner's depth stack.
type frame struct {
	open      byte
	pos       int
	lastComma int
}

// scanState is a minimal JSON lexer that tracks container depth and string
// state without validating tokens.
type scanState struct {
	stack    []frame
	inString bool
	escape   bool
	opened   bool
}

func (st *scanState) step(s string, i int) {
	c := s[i]
	if st.inString {
		switch {
		case st.escape:
			st.escape = false
		case c == '\\':
			st.escape = true
		case c == '"':
			st.inString = false
		}
		return
	}
	switch c {
	case '"':
		st.inString = true
	case '{', '[':
		st.stack = append(st.stack, frame{open: c, pos: i, lastComma: -1})
		st.opened = true
	case '}', ']':
		if len(st.stack) > 0 {
			st.stack = st.stack[:len(st.stack)-1]
		}
	case ',':
		if len(st.stack) > 0 {
			st.stack[len(st.stack)-1].lastComma = i
		}
	}
}

func scan(s string) scanState {
	var st scanState
	for i := 0; i < len(s); i++ {
		st.step(s, i)
	}
	return st
}

var reTrailingUnicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)

// Repair turns a truncated JSON candidate into parseable JSON where possible.
// Rules run in order: close an open string, drop a dangling tail member,
// append the closers left on the depth stack, strip trailing commas.
func Repair(s string) string {
	s = strings.TrimSpace(s)

	st := scan(s)
	cutString := false
	if st.inString {
		if st.escape {
			s = s[:len(s)-1]
		}
		s = reTrailingUnicodeEscape.ReplaceAllString(s, "")
		s += `"`
		cutString = true
	}

	for round := 0; round < maxRepairRounds; round++ {
		next, changed := dropDanglingMember(s, cutString)
		if !changed {
			break
		}
		s = next
		cutString = false
	}

	st = scan(s)
	var b strings.Builder
	b.WriteString(s)
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i].open == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return stripTrailingCommas(b.String())
}

// memberShape classifies the text after the last member boundary of the
// innermost open container.
type memberShape int

const (
	shapeEmpty memberShape = iota
	shapeKey
	shapeKeyColon
	shapeKeyString
	shapePartialValue
	shapeComplete
)

func dropDanglingMember(s string, cutString bool) (string, bool) {
	s = strings.TrimRight(s, " \t\r\n")
	st := scan(s)
	if len(st.stack) == 0 {
		return s, false
	}
	top := st.stack[len(st.stack)-1]
	commaPrefixed := top.lastComma >= 0
	boundary := top.pos
	if commaPrefixed {
		boundary = top.lastComma
	}
	tail := s[boundary+1:]

	if top.open == '[' {
		if classifyElement(tail) == shapePartialValue {
			return s[:boundary+1], true
		}
		if strings.TrimSpace(tail) == "" && !commaPrefixed {
			return dropOpenContainer(s, st)
		}
		return s, false
	}

	switch classifyMember(tail) {
	case shapeKey, shapeKeyColon, shapePartialValue:
		// Left in place these can never parse, so the first member goes too.
		return s[:cut(boundary, commaPrefixed)], true
	case shapeKeyString:
		if cutString && danglingValueRunes(tail) < shortValueRunes {
			return s[:cut(boundary, commaPrefixed)], true
		}
	case shapeEmpty:
		if !commaPrefixed {
			return dropOpenContainer(s, st)
		}
	}
	return s, false
}

// shortValueRunes bounds the cut-off string values that are dropped. Longer
// ones keep their text, closed where the output stopped.
const shortValueRunes = 200

// danglingValueRunes returns the rune length of the string value in a
// shapeKeyString tail.
func danglingValueRunes(tail string) int {
	rest := strings.TrimSpace(tail)
	rest = strings.TrimSpace(rest[stringEnd(rest)+1:])
	rest = strings.TrimSpace(rest[1:])
	return utf8.RuneCountInString(rest[1:stringEnd(rest)])
}

func cut(boundary int, commaPrefixed bool) int {
	if commaPrefixed {
		return boundary
	}
	return boundary + 1
}

// dropOpenContainer removes an empty, unclosed container that is the value of
// the last comma-prefixed member of an enclosing object.
func dropOpenContainer(s string, st scanState) (string, bool) {
	if len(st.stack) < 2 {
		return s, false
	}
	top := st.stack[len(st.stack)-1]
	parent := st.stack[len(st.stack)-2]
	if parent.open != '{' || parent.lastComma < 0 {
		return s, false
	}
	if classifyMember(s[parent.lastComma+1:top.pos]) != shapeKeyColon {
		return s, false
	}
	return s[:parent.lastComma], true
}

func classifyMember(tail string) memberShape {
	rest := strings.TrimSpace(tail)
	if rest == "" {
		return shapeEmpty
	}
	if rest[0] != '"' {
		return shapePartialValue
	}
	end := stringEnd(rest)
	if end < 0 {
		return shapePartialValue
	}
	rest = strings.TrimSpace(rest[end+1:])
	if rest == "" {
		return shapeKey
	}
	if rest[0] != ':' {
		return shapePartialValue
	}
	rest = strings.TrimSpace(rest[1:])
	if rest == "" {
		return shapeKeyColon
	}
	if rest[0] == '"' {
		if end := stringEnd(rest); end >= 0 && strings.TrimSpace(rest[end+1:]) == "" {
			return shapeKeyString
		}
		return shapePartialValue
	}
	if json.Valid([]byte(rest)) {
		return shapeComplete
	}
	return shapePartialValue
}

func classifyElement(tail string) memberShape {
	rest := strings.TrimSpace(tail)
	switch {
	case rest == "":
		return shapeEmpty
	case json.Valid([]byte(rest)):
		return shapeComplete
	default:
		return shapePartialValue
	}
}

// stringEnd returns the index of the quote closing the string literal that
// starts at s[0], or -1.
func stringEnd(s string) int {
	escape := false
	for i := 1; i < len(s); i++ {
		switch {
		case escape:
			escape = false
		case s[i] == '\\':
			escape = true
		case s[i] == '"':
			return i
		}
	}
	return -1
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escape := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
