// Package fingerprint normalizes a SELECT's comparison literals to `?`
// so that queries differing only in their bound values group under one
// metric bucket. It is deliberately shallower than the sqlmatch
// tokenizer's pattern matching: it walks only as far as the AND
// connective, collapsing everything else (OR, comparisons, BETWEEN
// bounds) to a placeholder the moment it stops being an AND chain.
package fingerprint

import (
	"strings"

	"github.com/mevdschee/mysqlcacheproxy/internal/sqlmatch"
)

// Fingerprint rewrites every comparison literal reachable through a
// chain of top-level ANDs to `?`, leaving the statement shape, column
// list, FROM/JOIN/GROUP BY/ORDER BY clauses, IN lists, function
// arguments and LIMIT values untouched. Non-SELECT statements (and SQL
// it can't make sense of) come back unchanged; callers that only want
// to fingerprint cacheable reads should check IsSelect first.
func Fingerprint(sql string) string {
	tokens := sqlmatch.FilterSignificant(sqlmatch.Tokenize(sql))
	if len(tokens) == 0 {
		return sql
	}
	if tokens[0].Kind != sqlmatch.Word || !strings.EqualFold(tokens[0].Value, "SELECT") {
		return sql
	}

	where, whereEnd := findClause(tokens, "WHERE")
	if where < 0 {
		return joinTokens(tokens)
	}
	end := clauseEnd(tokens, whereEnd)

	rewritten := walk(tokens[whereEnd:end])

	out := make([]sqlmatch.Token, 0, len(tokens))
	out = append(out, tokens[:whereEnd]...)
	out = append(out, rewritten...)
	out = append(out, tokens[end:]...)
	return joinTokens(out)
}

// IsSelect reports whether sql's first significant token is the word
// SELECT, case-insensitively. Non-SELECT statements (and anything the
// tokenizer finds empty) are never fingerprinted into the metrics
// batch.
func IsSelect(sql string) bool {
	tokens := sqlmatch.FilterSignificant(sqlmatch.Tokenize(sql))
	if len(tokens) == 0 {
		return false
	}
	return tokens[0].Kind == sqlmatch.Word && strings.EqualFold(tokens[0].Value, "SELECT")
}

var clauseBoundaryWords = map[string]bool{
	"GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true, "FOR": true, "UNION": true,
}

// findClause locates a top-level keyword (depth 0) and returns its
// index and the index immediately following it, or (-1, -1) if absent.
func findClause(tokens []sqlmatch.Token, word string) (int, int) {
	depth := 0
	for i, t := range tokens {
		if t.Kind == sqlmatch.Punct && t.Value == "(" {
			depth++
		}
		if t.Kind == sqlmatch.Punct && t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, word) {
			return i, i + 1
		}
	}
	return -1, -1
}

// clauseEnd finds where a WHERE/HAVING predicate ends: the next
// top-level clause-boundary keyword, or the end of the token stream.
func clauseEnd(tokens []sqlmatch.Token, start int) int {
	depth := 0
	for i := start; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind == sqlmatch.Punct && t.Value == "(" {
			depth++
		}
		if t.Kind == sqlmatch.Punct && t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && clauseBoundaryWords[strings.ToUpper(t.Value)] {
			return i
		}
	}
	return len(tokens)
}

// walk implements the recursion rule: descend through AND, snip
// everything else. Only ever called on a fully-bracketed expression
// span (no trailing clause keywords).
func walk(span []sqlmatch.Token) []sqlmatch.Token {
	if len(span) == 0 {
		return span
	}

	if inner, ok := fullyParenthesized(span); ok {
		out := make([]sqlmatch.Token, 0, len(inner)+2)
		out = append(out, span[0])
		out = append(out, walk(inner)...)
		out = append(out, span[len(span)-1])
		return out
	}

	if idx, ok := topLevelAnd(span); ok {
		left := walk(span[:idx])
		right := walk(span[idx+1:])
		out := make([]sqlmatch.Token, 0, len(left)+len(right)+1)
		out = append(out, left...)
		out = append(out, span[idx])
		out = append(out, right...)
		return out
	}

	if idx, ok := topLevelWord(span, "OR"); ok {
		out := make([]sqlmatch.Token, 0, idx+2)
		out = append(out, span[:idx]...)
		out = append(out, span[idx])
		out = append(out, placeholder())
		return out
	}

	if target, low, _, negated, ok := topLevelBetween(span); ok {
		out := make([]sqlmatch.Token, 0, len(target)+6)
		out = append(out, target...)
		if negated {
			out = append(out, word("NOT"))
		}
		out = append(out, word("BETWEEN"), placeholder(), word("AND"), placeholder())
		_ = low
		return out
	}

	if containsTopLevelWord(span, "IN") {
		return span
	}

	if span[0].Kind == sqlmatch.Word && strings.EqualFold(span[0].Value, "NOT") {
		out := make([]sqlmatch.Token, 0, len(span))
		out = append(out, span[0])
		out = append(out, walk(span[1:])...)
		return out
	}

	if idx, ok := topLevelComparison(span); ok {
		out := make([]sqlmatch.Token, 0, idx+2)
		out = append(out, span[:idx]...)
		out = append(out, span[idx])
		out = append(out, placeholder())
		return out
	}

	return span
}

func placeholder() sqlmatch.Token { return sqlmatch.Token{Kind: sqlmatch.Placeholder, Value: "?"} }
func word(v string) sqlmatch.Token { return sqlmatch.Token{Kind: sqlmatch.Word, Value: v} }

// fullyParenthesized reports whether the entire span is one bracketed
// group, e.g. "(a = 1 AND b = 2)", and if so returns its interior.
func fullyParenthesized(span []sqlmatch.Token) ([]sqlmatch.Token, bool) {
	if len(span) < 2 || span[0].Value != "(" || span[len(span)-1].Value != ")" {
		return nil, false
	}
	depth := 0
	for i, t := range span {
		if t.Value == "(" {
			depth++
		}
		if t.Value == ")" {
			depth--
			if depth == 0 && i != len(span)-1 {
				return nil, false
			}
		}
	}
	return span[1 : len(span)-1], true
}

// topLevelAnd returns the index of the rightmost depth-0 AND that is
// not part of a BETWEEN clause's "low AND high" syntax.
func topLevelAnd(span []sqlmatch.Token) (int, bool) {
	betweenAnds := betweenAndIndices(span)
	depth := 0
	found := -1
	for i, t := range span {
		if t.Value == "(" {
			depth++
		}
		if t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, "AND") && !betweenAnds[i] {
			found = i
		}
	}
	if found < 0 {
		return 0, false
	}
	return found, true
}

// betweenAndIndices marks the index of the AND token that belongs to
// each top-level BETWEEN ... AND ... span, so the AND-chain splitter
// skips it.
func betweenAndIndices(span []sqlmatch.Token) map[int]bool {
	marks := map[int]bool{}
	depth := 0
	for i, t := range span {
		if t.Value == "(" {
			depth++
		}
		if t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, "BETWEEN") {
			d2 := 0
			for j := i + 1; j < len(span); j++ {
				if span[j].Value == "(" {
					d2++
				}
				if span[j].Value == ")" {
					d2--
				}
				if d2 == 0 && span[j].Kind == sqlmatch.Word && strings.EqualFold(span[j].Value, "AND") {
					marks[j] = true
					break
				}
			}
		}
	}
	return marks
}

func topLevelWord(span []sqlmatch.Token, word string) (int, bool) {
	depth := 0
	found := -1
	for i, t := range span {
		if t.Value == "(" {
			depth++
		}
		if t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, word) {
			found = i
		}
	}
	if found < 0 {
		return 0, false
	}
	return found, true
}

func containsTopLevelWord(span []sqlmatch.Token, word string) bool {
	_, ok := topLevelWord(span, word)
	return ok
}

// topLevelBetween splits "target [NOT] BETWEEN low AND high" into its
// parts. The caller only needs target and negated; low/high are always
// replaced wholesale.
func topLevelBetween(span []sqlmatch.Token) (target, low, high []sqlmatch.Token, negated bool, ok bool) {
	depth := 0
	betweenIdx := -1
	negIdx := -1
	for i, t := range span {
		if t.Value == "(" {
			depth++
		}
		if t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, "BETWEEN") {
			betweenIdx = i
			if i > 0 && span[i-1].Kind == sqlmatch.Word && strings.EqualFold(span[i-1].Value, "NOT") {
				negIdx = i - 1
			}
			break
		}
	}
	if betweenIdx < 0 {
		return nil, nil, nil, false, false
	}
	targetEnd := betweenIdx
	if negIdx >= 0 {
		targetEnd = negIdx
	}
	andMarks := betweenAndIndices(span)
	andIdx := -1
	for i := betweenIdx + 1; i < len(span); i++ {
		if andMarks[i] {
			andIdx = i
			break
		}
	}
	if andIdx < 0 {
		return nil, nil, nil, false, false
	}
	return span[:targetEnd], span[betweenIdx+1 : andIdx], span[andIdx+1:], negIdx >= 0, true
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, ">": true,
	"<=": true, ">=": true, "<=>": true,
}

// topLevelComparison finds a depth-0 comparison operator (including
// the LIKE keyword), preferring the first one found since these don't
// chain the way AND/OR do in practice.
func topLevelComparison(span []sqlmatch.Token) (int, bool) {
	depth := 0
	for i, t := range span {
		if t.Value == "(" {
			depth++
			continue
		}
		if t.Value == ")" {
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		if t.Kind == sqlmatch.Punct && comparisonOps[t.Value] {
			return i, true
		}
		if t.Kind == sqlmatch.Word && strings.EqualFold(t.Value, "LIKE") {
			return i, true
		}
	}
	return 0, false
}

// joinTokens serializes a token stream back to SQL text, tightening
// spacing around ".", ",", "(" and ")" the way the source's token
// joiner does.
func joinTokens(tokens []sqlmatch.Token) string {
	var b strings.Builder
	prev := ""
	for _, t := range tokens {
		v := t.Value
		switch t.Kind {
		case sqlmatch.SingleQuotedString:
			v = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		case sqlmatch.NationalStringLiteral:
			v = "N'" + strings.ReplaceAll(v, "'", "''") + "'"
		case sqlmatch.EscapedStringLiteral:
			v = "E'" + strings.ReplaceAll(v, "'", "''") + "'"
		case sqlmatch.HexStringLiteral:
			v = "X'" + v + "'"
		}
		if v == "" {
			continue
		}
		if b.Len() > 0 && !tight(prev, v) {
			b.WriteByte(' ')
		}
		b.WriteString(v)
		prev = v
	}
	return b.String()
}

// spacedBeforeParen are keywords after which an opening paren still
// gets a leading space ("IN (1, 2)"), as opposed to a function call or
// grouping paren directly against an identifier ("COUNT(1)").
var spacedBeforeParen = map[string]bool{
	"IN": true, "AND": true, "OR": true, "WHERE": true, "HAVING": true,
	"NOT": true, "VALUES": true, "BETWEEN": true,
}

func tight(a, b string) bool {
	if a == "." || b == "." || b == "," || b == ")" || a == "(" {
		return true
	}
	if b == "(" {
		return !spacedBeforeParen[strings.ToUpper(a)]
	}
	return false
}
