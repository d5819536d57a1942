// Package table reads the slot and preference tables and writes the result
// table. All tables are delimited text with a header row.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MetaColumns is the number of leading preference-table columns passed
// through to the result table untouched.
const MetaColumns = 3

const DefaultComma = ';'

type ParseError struct {
	Table  string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("%s line %d column %d: %v", e.Table, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s line %d: %v", e.Table, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var ErrEmpty = errors.New("table has no header row")

// Slots is the slot/capacity table. Capacity is indexed
// [project][workPackage] in file order.
type Slots struct {
	WorkPackages []string
	Projects     []string
	Capacity     [][]int
}

func (s *Slots) Total() int {
	total := 0
	for _, row := range s.Capacity {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// Preferences is the preference table. Lines holds the 1-based file line
// of each data row for diagnostics.
type Preferences struct {
	Header  []string
	Lines   []int
	Meta    [][]string
	Choices [][]string
}

func (p *Preferences) Len() int { return len(p.Meta) }

type record struct {
	line   int
	fields []string
}

func readAll(name string, r io.Reader, comma rune) ([]record, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	var records []record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &ParseError{Table: name, Line: pe.Line, Column: pe.Column, Err: pe.Err}
			}
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		line, _ := cr.FieldPos(0)
		if len(records) == 0 {
			fields[0] = strings.TrimPrefix(fields[0], "\ufeff")
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		records = append(records, record{line: line, fields: fields})
	}
	if len(records) == 0 {
		return nil, &ParseError{Table: name, Line: 1, Err: ErrEmpty}
	}
	return records, nil
}

func ReadSlots(r io.Reader, comma rune) (*Slots, error) {
	records, err := readAll("slots", r, comma)
	if err != nil {
		return nil, err
	}
	header := records[0].fields
	if len(header) < 2 {
		return nil, &ParseError{Table: "slots", Line: 1, Err: errors.New("no work-package columns")}
	}
	s := &Slots{WorkPackages: header[1:]}
	for _, rec := range records[1:] {
		row, line := rec.fields, rec.line
		if len(row) != len(header) {
			return nil, &ParseError{Table: "slots", Line: line, Err: fmt.Errorf("%d fields, want %d", len(row), len(header))}
		}
		caps := make([]int, len(s.WorkPackages))
		for w, cell := range row[1:] {
			c, err := strconv.Atoi(strings.TrimSpace(cell))
			if err != nil {
				return nil, &ParseError{Table: "slots", Line: line, Column: w + 2, Err: err}
			}
			if c < 0 {
				return nil, &ParseError{Table: "slots", Line: line, Column: w + 2, Err: fmt.Errorf("negative capacity %d", c)}
			}
			caps[w] = c
		}
		s.Projects = append(s.Projects, row[0])
		s.Capacity = append(s.Capacity, caps)
	}
	if len(s.Projects) == 0 {
		return nil, &ParseError{Table: "slots", Line: 2, Err: errors.New("no project rows")}
	}
	return s, nil
}

func ReadPreferences(r io.Reader, comma rune) (*Preferences, error) {
	records, err := readAll("preferences", r, comma)
	if err != nil {
		return nil, err
	}
	header := records[0].fields
	if len(header) < MetaColumns {
		return nil, &ParseError{Table: "preferences", Line: records[0].line, Err: fmt.Errorf("%d header fields, want at least %d", len(header), MetaColumns)}
	}
	p := &Preferences{Header: header[:MetaColumns]}
	for _, rec := range records[1:] {
		row := rec.fields
		if len(row) < MetaColumns {
			return nil, &ParseError{Table: "preferences", Line: rec.line, Err: fmt.Errorf("%d fields, want at least %d", len(row), MetaColumns)}
		}
		p.Lines = append(p.Lines, rec.line)
		p.Meta = append(p.Meta, row[:MetaColumns])
		p.Choices = append(p.Choices, row[MetaColumns:])
	}
	return p, nil
}
