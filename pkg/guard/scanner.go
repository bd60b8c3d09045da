package guard

import (
	"fmt"
	"strings"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

// Token kinds produced by the scanner.
const (
	TokenWord        TokenKind = iota // unquoted identifier or keyword
	TokenQuotedIdent                  // "ident" or `ident`
	TokenString                       // 'text', E'text', $$text$$
	TokenNumber                       // 42, 4.2, 1e10
	TokenParam                        // $1, ?
	TokenSemicolon                    // ;
	TokenLParen                       // (
	TokenRParen                       // )
	TokenComma                        // ,
	TokenOther                        // operators and punctuation
)

// Token is a lexical unit of a candidate statement.
// Start and End are byte offsets into the scanned text.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
	Depth int // parenthesis depth at the token, 0 = top level
}

// IsWord reports whether t is the unquoted word w, compared case-insensitively.
func (t Token) IsWord(w string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, w)
}

// ScanError describes malformed input: unterminated literals or comments and
// unbalanced parentheses.
type ScanError struct {
	Offset int
	Msg    string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

// ScanOptions selects dialect-specific lexical rules.
type ScanOptions struct {
	// BackslashEscapes makes '\' escape the next character inside '...' strings (MySQL).
	BackslashEscapes bool
	// HashComments treats '#' as the start of a line comment (MySQL).
	HashComments bool
}

// scanner tokenizes SQL text. Comments and whitespace are skipped.
type scanner struct {
	input string
	pos   int
	depth int
	opts  ScanOptions
}

// Scan tokenizes text. Comments are dropped; keywords inside string literals,
// quoted identifiers and comments never surface as TokenWord.
func Scan(text string, opts ScanOptions) ([]Token, error) {
	s := &scanner{input: text, opts: opts}
	var tokens []Token
	for {
		if err := s.skipWhitespaceAndComments(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.input) {
			break
		}
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	if s.depth != 0 {
		return nil, &ScanError{Offset: len(s.input), Msg: "unbalanced parentheses"}
	}
	return tokens, nil
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.input) {
		return 0
	}
	return s.input[s.pos+offset]
}

func (s *scanner) skipWhitespaceAndComments() error {
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			s.pos++
		case ch == '-' && s.peek(1) == '-', ch == '#' && s.opts.HashComments:
			for s.pos < len(s.input) && s.input[s.pos] != '\n' {
				s.pos++
			}
		case ch == '/' && s.peek(1) == '*':
			start := s.pos
			s.pos += 2
			for {
				if s.pos >= len(s.input) {
					return &ScanError{Offset: start, Msg: "unterminated block comment"}
				}
				if s.input[s.pos] == '*' && s.peek(1) == '/' {
					s.pos += 2
					break
				}
				s.pos++
			}
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) emit(kind TokenKind, start int) Token {
	return Token{Kind: kind, Text: s.input[start:s.pos], Start: start, End: s.pos, Depth: s.depth}
}

func (s *scanner) next() (Token, error) {
	start := s.pos
	ch := s.input[s.pos]

	switch {
	case ch == '\'':
		if err := s.readQuoted('\'', s.opts.BackslashEscapes); err != nil {
			return Token{}, err
		}
		return s.emit(TokenString, start), nil
	case (ch == 'E' || ch == 'e') && s.peek(1) == '\'':
		s.pos++
		if err := s.readQuoted('\'', true); err != nil {
			return Token{}, err
		}
		return s.emit(TokenString, start), nil
	case ch == '"' || ch == '`':
		if err := s.readQuoted(ch, false); err != nil {
			return Token{}, err
		}
		return s.emit(TokenQuotedIdent, start), nil
	case ch == '$':
		return s.readDollar()
	case ch == '?':
		s.pos++
		return s.emit(TokenParam, start), nil
	case isDigit(ch) || (ch == '.' && isDigit(s.peek(1))):
		s.readNumber()
		return s.emit(TokenNumber, start), nil
	case isLetter(ch):
		for s.pos < len(s.input) && (isLetter(s.input[s.pos]) || isDigit(s.input[s.pos]) || s.input[s.pos] == '$') {
			s.pos++
		}
		return s.emit(TokenWord, start), nil
	case ch == ';':
		s.pos++
		return s.emit(TokenSemicolon, start), nil
	case ch == ',':
		s.pos++
		return s.emit(TokenComma, start), nil
	case ch == '(':
		tok := Token{Kind: TokenLParen, Text: "(", Start: start, End: start + 1, Depth: s.depth}
		s.pos++
		s.depth++
		return tok, nil
	case ch == ')':
		if s.depth == 0 {
			return Token{}, &ScanError{Offset: start, Msg: "unbalanced parentheses"}
		}
		s.depth--
		s.pos++
		return s.emit(TokenRParen, start), nil
	default:
		s.pos++
		return s.emit(TokenOther, start), nil
	}
}

// readQuoted consumes a quoted literal; a doubled quote is an escaped quote.
func (s *scanner) readQuoted(quote byte, backslash bool) error {
	start := s.pos
	s.pos++ // opening quote
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case backslash && ch == '\\':
			s.pos += 2
		case ch == quote && s.peek(1) == quote:
			s.pos += 2
		case ch == quote:
			s.pos++
			return nil
		default:
			s.pos++
		}
	}
	return &ScanError{Offset: start, Msg: fmt.Sprintf("unterminated %c-quoted literal", quote)}
}

// readDollar handles positional parameters ($1) and dollar-quoted strings ($tag$...$tag$).
func (s *scanner) readDollar() (Token, error) {
	start := s.pos
	if isDigit(s.peek(1)) {
		s.pos++
		for s.pos < len(s.input) && isDigit(s.input[s.pos]) {
			s.pos++
		}
		return s.emit(TokenParam, start), nil
	}

	end := s.pos + 1
	for end < len(s.input) && (isLetter(s.input[end]) || isDigit(s.input[end])) {
		end++
	}
	if end >= len(s.input) || s.input[end] != '$' {
		s.pos++
		return s.emit(TokenOther, start), nil
	}
	delim := s.input[start : end+1]
	closing := strings.Index(s.input[end+1:], delim)
	if closing < 0 {
		return Token{}, &ScanError{Offset: start, Msg: "unterminated dollar-quoted string"}
	}
	s.pos = end + 1 + closing + len(delim)
	return s.emit(TokenString, start), nil
}

func (s *scanner) readNumber() {
	for s.pos < len(s.input) && isDigit(s.input[s.pos]) {
		s.pos++
	}
	if s.pos < len(s.input) && s.input[s.pos] == '.' {
		s.pos++
		for s.pos < len(s.input) && isDigit(s.input[s.pos]) {
			s.pos++
		}
	}
	if s.pos < len(s.input) && (s.input[s.pos] == 'e' || s.input[s.pos] == 'E') {
		next := s.peek(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(s.peek(2))) {
			s.pos += 2
			for s.pos < len(s.input) && isDigit(s.input[s.pos]) {
				s.pos++
			}
		}
	}
}

// isLetter accepts ASCII letters, underscore and any non-ASCII byte so that
// UTF-8 identifiers stay in one word.
func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
