// Package eval runs batches of question/gold-SQL cases through generation,
// the safety gate, execution and the equivalence checker, and reports
// per-case statuses and aggregate accuracy.
package eval

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Case is one evaluation input line.
type Case struct {
	Domain   string `json:"domain"`
	Question string `json:"question"`
	GoldSQL  string `json:"gold_sql"`
}

// UnmarshalJSON accepts gold_statement as an alias of gold_sql.
func (c *Case) UnmarshalJSON(data []byte) error {
	var raw struct {
		Domain        string `json:"domain"`
		Question      string `json:"question"`
		GoldSQL       string `json:"gold_sql"`
		GoldStatement string `json:"gold_statement"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Domain = raw.Domain
	c.Question = raw.Question
	c.GoldSQL = raw.GoldSQL
	if c.GoldSQL == "" {
		c.GoldSQL = raw.GoldStatement
	}
	return nil
}

func (c Case) validate() error {
	var errs []error
	if strings.TrimSpace(c.Domain) == "" {
		errs = append(errs, errors.New("missing domain"))
	}
	if strings.TrimSpace(c.Question) == "" {
		errs = append(errs, errors.New("missing question"))
	}
	if strings.TrimSpace(c.GoldSQL) == "" {
		errs = append(errs, errors.New("missing gold_sql"))
	}
	return errors.Join(errs...)
}

// LoadCases reads a JSONL case file.
func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided case file
	if err != nil {
		return nil, fmt.Errorf("failed to open cases: %w", err)
	}
	defer func() { _ = f.Close() }()

	cases, err := ReadCases(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cases, nil
}

// ReadCases decodes one JSON case per non-blank line.
func ReadCases(r io.Reader) ([]Case, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var cases []Case
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cases: %w", err)
	}
	return cases, nil
}
