package guard

import (
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver" // Register TiDB parser driver.
)

// A parser.Parser is not safe for concurrent use.
var parserPool = sync.Pool{
	New: func() any { return parser.New() },
}

// checkMySQL parses text with the TiDB grammar and accepts only a single
// SELECT or set operation that neither writes (INTO) nor takes locks.
func checkMySQL(text string) error {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)

	stmts, _, err := p.Parse(text, "", "")
	if err != nil {
		return reject(ReasonParseError, "%v", err)
	}
	if len(stmts) != 1 {
		return reject(ReasonMultiStatement, "found %d statements", len(stmts))
	}

	switch n := stmts[0].(type) {
	case *ast.SelectStmt:
		if n.SelectIntoOpt != nil {
			return reject(ReasonNotReadOnly, "SELECT ... INTO is not allowed")
		}
		if n.LockInfo != nil && n.LockInfo.LockType != ast.SelectLockNone {
			return reject(ReasonNotReadOnly, "locking clause %s is not allowed", n.LockInfo.LockType)
		}
	case *ast.SetOprStmt:
	default:
		return reject(ReasonNotReadOnly, "statement type %T is not a query", n)
	}
	return nil
}
