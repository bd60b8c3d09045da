package guard

import (
	"fmt"
	"sort"
	"strings"
)

// Reason names the rule a rejected candidate violated.
type Reason string

// Rejection reasons.
const (
	ReasonMultiStatement   Reason = "MULTI_STATEMENT"
	ReasonNotReadOnly      Reason = "NOT_READ_ONLY"
	ReasonForbiddenKeyword Reason = "FORBIDDEN_KEYWORD"
	ReasonParseError       Reason = "PARSE_ERROR"
)

// Rejection is returned when a candidate statement fails the safety gate.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// forbiddenKeywords may not appear anywhere in a statement as a bare word.
var forbiddenKeywords = map[string]bool{
	"create": true, "alter": true, "drop": true, "truncate": true,
	"insert": true, "update": true, "delete": true, "merge": true,
	"grant": true, "revoke": true, "commit": true, "rollback": true,
	"vacuum": true, "copy": true, "call": true, "execute": true,
	// engine administration
	"pragma": true, "attach": true, "detach": true, "install": true,
	"load": true, "checkpoint": true, "reindex": true, "lock": true,
	"listen": true, "notify": true, "prepare": true, "deallocate": true,
	// SELECT ... INTO creates a table
	"into": true,
}

// readOnlyLeaders are the keywords a statement may start with.
var readOnlyLeaders = map[string]bool{
	"select": true,
	"with":   true,
}

// ForbiddenKeywords returns the disallowed keywords in sorted order.
func ForbiddenKeywords() []string {
	out := make([]string, 0, len(forbiddenKeywords))
	for k := range forbiddenKeywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// statement is a candidate that passed classification.
type statement struct {
	text   string
	tokens []Token // significant tokens, trailing terminator excluded
	term   *Token  // trailing terminator, if any
}

// Classifier decides whether candidate text is a single read-only statement.
// It has no side effects.
type Classifier struct {
	dialect Dialect
	scan    ScanOptions
	parse   func(string) error
}

// NewClassifier returns a classifier using the lexical rules of dialect.
// MySQL-family dialects are additionally checked with a full parser.
func NewClassifier(dialect Dialect) *Classifier {
	c := &Classifier{dialect: dialect, scan: dialect.scanOptions()}
	if dialect.IsMySQL() {
		c.parse = checkMySQL
	}
	return c
}

// Classify strips decoration from candidate and reports a *Rejection if it is
// not a single read-only statement.
func (c *Classifier) Classify(candidate string) error {
	_, err := c.classify(Strip(candidate))
	return err
}

// classify checks already-stripped text. Checks run in a fixed order:
// parse, multi-statement, forbidden keyword, read-only leader.
func (c *Classifier) classify(text string) (*statement, error) {
	if text == "" {
		return nil, reject(ReasonParseError, "empty statement")
	}

	tokens, err := Scan(text, c.scan)
	if err != nil {
		return nil, reject(ReasonParseError, "%v", err)
	}

	stmt := &statement{text: text, tokens: tokens}
	for i, tok := range tokens {
		if tok.Kind != TokenSemicolon {
			continue
		}
		if i != len(tokens)-1 {
			return nil, reject(ReasonMultiStatement, "statement separator at offset %d is followed by more text", tok.Start)
		}
		term := tok
		stmt.term = &term
		stmt.tokens = tokens[:i]
	}
	if len(stmt.tokens) == 0 {
		return nil, reject(ReasonParseError, "empty statement")
	}

	for _, tok := range stmt.tokens {
		if tok.Kind == TokenWord && forbiddenKeywords[strings.ToLower(tok.Text)] {
			return nil, reject(ReasonForbiddenKeyword, "keyword %q is not allowed", strings.ToUpper(tok.Text))
		}
	}

	if c.parse != nil {
		if err := c.parse(text); err != nil {
			return nil, err
		}
	}

	lead := leadingWord(stmt.tokens)
	if lead == nil || !readOnlyLeaders[strings.ToLower(lead.Text)] {
		found := "nothing"
		if lead != nil {
			found = fmt.Sprintf("%q", strings.ToUpper(lead.Text))
		} else if first := stmt.tokens[0]; first.Kind != TokenLParen {
			found = fmt.Sprintf("%q", first.Text)
		}
		return nil, reject(ReasonNotReadOnly, "statement must start with SELECT or WITH, found %s", found)
	}

	return stmt, nil
}

// leadingWord returns the first word, skipping opening parentheses of a
// parenthesized query such as "(SELECT 1) UNION (SELECT 2)".
func leadingWord(tokens []Token) *Token {
	for i := range tokens {
		switch tokens[i].Kind {
		case TokenLParen:
			continue
		case TokenWord:
			return &tokens[i]
		default:
			return nil
		}
	}
	return nil
}
