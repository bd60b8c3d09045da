package guard

import "strings"

const fence = "```"

// labels are answer prefixes models put in front of the statement.
var labels = []string{"sqlquery:", "sql query:", "sql:", "query:", "answer:"}

// Strip removes markdown code fences, answer labels and prose lead-in lines from
// raw generator output. When the text contains a fenced block, only the first
// block's body is kept, so an explanatory line before or after the block is dropped.
func Strip(text string) string {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, fence); i >= 0 {
		body := s[i+len(fence):]
		// Optional info string ("sql", "postgresql") up to the end of the line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && isInfoString(body[:nl]) {
			body = body[nl+1:]
		} else {
			body = trimInlineInfo(body)
		}
		if j := strings.Index(body, fence); j >= 0 {
			body = body[:j]
		}
		s = strings.TrimSpace(body)
	}

	for {
		trimmed := trimLabel(s)
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return dropLeadIn(s)
}

// trimInlineInfo drops an info string written on the same line as the
// statement, as in "```sql SELECT 1```".
func trimInlineInfo(body string) string {
	word, rest, ok := strings.Cut(body, " ")
	if !ok || !isInfoString(word) || !startsStatement(rest) {
		return body
	}
	return rest
}

// dropLeadIn removes leading prose lines ("Here is the SQL query:") ahead of the
// first line that starts a read-only statement. A line led by a write or admin
// keyword is never dropped, and text with no such statement line is returned as is.
func dropLeadIn(s string) string {
	rest := s
	for {
		if startsStatement(rest) {
			return rest
		}
		line, next, ok := strings.Cut(rest, "\n")
		if !ok || forbiddenKeywords[firstWord(line)] {
			return s
		}
		rest = strings.TrimSpace(next)
	}
}

func startsStatement(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") {
		return true
	}
	return readOnlyLeaders[firstWord(s)]
}

// firstWord returns the leading run of letters in s, lowercased.
func firstWord(s string) string {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	return strings.ToLower(s[:i])
}

func trimLabel(s string) string {
	lower := strings.ToLower(s)
	for _, l := range labels {
		if strings.HasPrefix(lower, l) {
			return strings.TrimSpace(s[len(l):])
		}
	}
	return s
}

func isInfoString(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if !isLetter(ch) && !isDigit(ch) && ch != '-' && ch != '+' {
			return false
		}
	}
	// A bare keyword on the fence line is part of the statement, not an info string.
	switch strings.ToLower(line) {
	case "select", "with":
		return false
	}
	return true
}
