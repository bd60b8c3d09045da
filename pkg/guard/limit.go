package guard

import (
	"strconv"
	"strings"
)

// limitStoppers end the value of a LIMIT clause at top level.
var limitStoppers = map[string]bool{"offset": true, "fetch": true, "for": true}

// setOperators introduce another query block at top level.
var setOperators = map[string]bool{"union": true, "intersect": true, "except": true, "minus": true}

// EnforceLimit caps the outermost query of an already classified text at
// maxRows rows. It returns the rewritten text and the effective cap.
func (c *Classifier) EnforceLimit(text string, maxRows int) (string, int, error) {
	stmt, err := c.classify(text)
	if err != nil {
		return "", 0, err
	}
	out, limit := enforceLimit(stmt, maxRows)
	return out, limit, nil
}

// enforceLimit rewrites or appends the top-level row limit of stmt. Only the
// last top-level LIMIT (or FETCH FIRST) clause after the last set operator is
// considered; limits inside CTEs, subqueries and derived tables are untouched.
func enforceLimit(stmt *statement, maxRows int) (string, int) {
	tokens := stmt.tokens
	text := stmt.text

	tail := 0
	for i, tok := range tokens {
		if tok.Depth == 0 && tok.Kind == TokenWord && setOperators[strings.ToLower(tok.Text)] {
			tail = i + 1
		}
	}

	limitAt, fetchAt := -1, -1
	for i := tail; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Depth != 0 {
			continue
		}
		switch {
		case tok.IsWord("limit"):
			limitAt = i
		case tok.IsWord("fetch"):
			fetchAt = i
		}
	}

	switch {
	case limitAt >= 0:
		return rewriteLimit(text, tokens, limitAt, maxRows)
	case fetchAt >= 0:
		if out, n, ok := rewriteFetch(text, tokens, fetchAt, maxRows); ok {
			return out, n
		}
	}
	return appendLimit(text, tokens, tail, maxRows), maxRows
}

// rewriteLimit handles "LIMIT n", "LIMIT ALL", "LIMIT expr" and MySQL "LIMIT off, n".
func rewriteLimit(text string, tokens []Token, at, maxRows int) (string, int) {
	end := at + 1
	comma := -1
	for end < len(tokens) {
		tok := tokens[end]
		if tok.Depth == 0 && tok.Kind == TokenWord && limitStoppers[strings.ToLower(tok.Text)] {
			break
		}
		if tok.Depth == 0 && tok.Kind == TokenComma && comma < 0 {
			comma = end
		}
		end++
	}

	value := tokens[at+1 : end]
	if comma >= 0 {
		value = tokens[comma+1 : end]
	}

	if len(value) == 1 && value[0].Kind == TokenNumber {
		if n, err := strconv.Atoi(value[0].Text); err == nil && n >= 0 {
			if n <= maxRows {
				return text, n
			}
			return splice(text, value[0].Start, value[0].End, maxRows), maxRows
		}
	}

	if len(value) == 0 {
		pos := tokens[end-1].End
		return text[:pos] + " " + strconv.Itoa(maxRows) + text[pos:], maxRows
	}
	return splice(text, value[0].Start, value[len(value)-1].End, maxRows), maxRows
}

// rewriteFetch handles "FETCH FIRST|NEXT [n] ROW|ROWS ONLY|WITH TIES".
func rewriteFetch(text string, tokens []Token, at, maxRows int) (string, int, bool) {
	i := at + 1
	if i >= len(tokens) || !(tokens[i].IsWord("first") || tokens[i].IsWord("next")) {
		return "", 0, false
	}
	i++
	if i >= len(tokens) {
		return "", 0, false
	}
	if tokens[i].Kind == TokenNumber {
		n, err := strconv.Atoi(tokens[i].Text)
		if err != nil || n < 0 || n > maxRows {
			return splice(text, tokens[i].Start, tokens[i].End, maxRows), maxRows, true
		}
		return text, n, true
	}
	if tokens[i].IsWord("row") || tokens[i].IsWord("rows") {
		// FETCH FIRST ROW ONLY fetches one row.
		return text, 1, true
	}
	return "", 0, false
}

// appendLimit adds a LIMIT clause after the last significant token, or before a
// trailing top-level locking clause.
func appendLimit(text string, tokens []Token, tail, maxRows int) string {
	last := tokens[len(tokens)-1]
	pos := last.End
	for i := tail; i < len(tokens); i++ {
		if tokens[i].Depth == 0 && tokens[i].IsWord("for") {
			pos = tokens[i].Start
			clause := "LIMIT " + strconv.Itoa(maxRows) + " "
			return text[:pos] + clause + text[pos:]
		}
	}
	return text[:pos] + "\nLIMIT " + strconv.Itoa(maxRows) + text[pos:]
}

func splice(text string, start, end, n int) string {
	return text[:start] + strconv.Itoa(n) + text[end:]
}
