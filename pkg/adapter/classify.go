package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// messageRules map lower-cased error text fragments to failure kinds.
// Rules are checked in order; the first match wins.
var messageRules = []struct {
	kind      core.FailureKind
	fragments []string
}{
	{core.FailureTimeout, []string{"statement timeout", "timeout", "interrupted", "query was canceled"}},
	{core.FailureConnection, []string{"connection refused", "connection reset", "broken pipe", "bad connection", "database is closed", "no such host"}},
	{core.FailureSyntax, []string{"syntax error", "parser error", "parse error"}},
	{core.FailureType, []string{"operator does not exist", "conversion error", "type mismatch", "datatype mismatch", "invalid input syntax", "cannot cast", "could not convert"}},
	{core.FailureMissingObject, []string{"does not exist", "no such table", "no such column", "no such function", "unknown column", "unknown table", "catalog error", "not found"}},
}

// ClassifyCommon maps errors every driver can produce (context expiry, broken
// connections) and falls back to message heuristics.
func ClassifyCommon(err error) core.FailureKind {
	switch {
	case err == nil:
		return core.FailureBackend
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return core.FailureTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, ErrNotConnected):
		return core.FailureConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.FailureTimeout
		}
		return core.FailureConnection
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage maps error text to a failure kind, BACKEND when nothing matches.
func ClassifyMessage(msg string) core.FailureKind {
	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, f := range rule.fragments {
			if strings.Contains(lower, f) {
				return rule.kind
			}
		}
	}
	return core.FailureBackend
}
