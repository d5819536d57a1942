package main

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answer is the canned result for every statement containing match. A
// non-nil err fails the statement itself, rowsErr is returned once rows are
// exhausted and affected is the Exec row count.
type answer struct {
	match    string
	columns  []string
	rows     [][]driver.Value
	err      error
	rowsErr  error
	affected int64
}

type execCall struct {
	query string
	args  []driver.Value
}

type scriptedDriver struct {
	mu      sync.Mutex
	scripts map[string][]answer
	execs   map[string][]execCall
}

var scripted = &scriptedDriver{scripts: map[string][]answer{}, execs: map[string][]execCall{}}

func init() {
	sql.Register("scripted", scripted)
}

func (d *scriptedDriver) Open(dsn string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	answers, ok := d.scripts[dsn]
	if !ok {
		return nil, fmt.Errorf("no script for %q", dsn)
	}
	return &scriptedConn{dsn: dsn, answers: answers}, nil
}

// scriptedDB opens a database answering queries from answers, matched in
// order by substring.
func scriptedDB(t *testing.T, answers ...answer) *sql.DB {
	t.Helper()
	scripted.mu.Lock()
	scripted.scripts[t.Name()] = answers
	scripted.mu.Unlock()
	db, err := sql.Open("scripted", t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// execsFor returns the statements executed through the test's database.
func execsFor(t *testing.T) []execCall {
	scripted.mu.Lock()
	defer scripted.mu.Unlock()
	return scripted.execs[t.Name()]
}

type scriptedConn struct {
	dsn     string
	answers []answer
}

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return &scriptedStmt{conn: c, query: query}, nil
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions are not scripted")
}

type scriptedStmt struct {
	conn  *scriptedConn
	query string
}

func (s *scriptedStmt) Close() error  { return nil }
func (s *scriptedStmt) NumInput() int { return -1 }

func (s *scriptedStmt) Exec(args []driver.Value) (driver.Result, error) {
	scripted.mu.Lock()
	scripted.execs[s.conn.dsn] = append(scripted.execs[s.conn.dsn], execCall{query: s.query, args: args})
	scripted.mu.Unlock()
	for _, a := range s.conn.answers {
		if strings.Contains(s.query, a.match) {
			if a.err != nil {
				return nil, a.err
			}
			return driver.RowsAffected(a.affected), nil
		}
	}
	return nil, fmt.Errorf("unscripted statement: %s", s.query)
}

func (s *scriptedStmt) Query(args []driver.Value) (driver.Rows, error) {
	for _, a := range s.conn.answers {
		if strings.Contains(s.query, a.match) {
			if a.err != nil {
				return nil, a.err
			}
			return &scriptedRows{answer: a}, nil
		}
	}
	return nil, fmt.Errorf("unscripted query: %s", s.query)
}

type scriptedRows struct {
	answer answer
	next   int
}

func (r *scriptedRows) Columns() []string { return r.answer.columns }
func (r *scriptedRows) Close() error      { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.next < len(r.answer.rows) {
		copy(dest, r.answer.rows[r.next])
		r.next++
		return nil
	}
	if r.answer.rowsErr != nil {
		return r.answer.rowsErr
	}
	return io.EOF
}

var errConnReset = errors.New("connection reset by peer")

func TestRunExportFailsOnInterruptedRead(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM solve_runs", columns: []string{"num_choices_p", "num_choices_w"}, rows: [][]driver.Value{{int64(1), int64(1)}}},
		answer{match: "FROM run_assignments", columns: []string{"student_id", "project_id", "work_package", "project_rank", "work_package_rank"}, rowsErr: errConnReset},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/runs/5f0c1a52-0c1e-4b51-9a39-2b4a53a0f6a1/assignments.csv", a.signEmail("root@example.com"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), errConnReset.Error())
}

func TestRunExportUnknownRun(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM solve_runs", columns: []string{"num_choices_p", "num_choices_w"}},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/runs/5f0c1a52-0c1e-4b51-9a39-2b4a53a0f6a1/assignments.csv", a.signEmail("root@example.com"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunExportUsesStoredChoiceCounts(t *testing.T) {
	a := testApp()
	// The run was solved with one choice of each kind. The round's current
	// settings are never consulted.
	a.db = scriptedDB(t,
		answer{match: "FROM solve_runs", columns: []string{"num_choices_p", "num_choices_w"}, rows: [][]driver.Value{{int64(1), int64(1)}}},
		answer{match: "FROM run_assignments", columns: []string{"student_id", "project_id", "work_package", "project_rank", "work_package_rank"}, rows: [][]driver.Value{
			{int64(8), int64(20), int64(0), int64(1), int64(0)},
			{int64(7), int64(10), int64(0), int64(0), int64(0)},
		}},
		answer{match: "FROM rounds WHERE", columns: []string{"work_packages", "meta_header"}, rows: [][]driver.Value{{[]byte("{W1}"), []byte("{Name,Surname,ID}")}}},
		answer{match: "FROM projects", columns: []string{"id", "name", "capacities"}, rows: [][]driver.Value{
			{int64(10), "P1", []byte("{1}")},
			{int64(20), "P2", []byte("{1}")},
		}},
		answer{match: "FROM students", columns: []string{"id", "line", "meta", "choices"}, rows: [][]driver.Value{
			{int64(7), int64(2), []byte("{a,b,1}"), []byte("{P1,W1}")},
			{int64(8), int64(3), []byte("{c,d,2}"), []byte("{P1,W1}")},
		}},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/runs/5f0c1a52-0c1e-4b51-9a39-2b4a53a0f6a1/assignments.csv", a.signEmail("root@example.com"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{
		"Name;Surname;ID;Assigned Project;Assigned Work Package;Assigned Project Choice #;Assigned Work Package Choice #;Original Project Choice #1;Original Work Package Choice #1",
		"a;b;1;P1;W1;1;1;P1;W1",
		"c;d;2;P2;W1;2;1;P1;W1",
	}, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"))
}

func TestRunExportRejectsRanksBeyondStoredCounts(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM solve_runs", columns: []string{"num_choices_p", "num_choices_w"}, rows: [][]driver.Value{{int64(1), int64(1)}}},
		answer{match: "FROM run_assignments", columns: []string{"student_id", "project_id", "work_package", "project_rank", "work_package_rank"}, rows: [][]driver.Value{
			{int64(7), int64(10), int64(0), int64(3), int64(0)},
		}},
		answer{match: "FROM rounds WHERE", columns: []string{"work_packages", "meta_header"}, rows: [][]driver.Value{{[]byte("{W1}"), []byte("{Name,Surname,ID}")}}},
		answer{match: "FROM projects", columns: []string{"id", "name", "capacities"}, rows: [][]driver.Value{{int64(10), "P1", []byte("{1}")}}},
		answer{match: "FROM students", columns: []string{"id", "line", "meta", "choices"}, rows: [][]driver.Value{{int64(7), int64(2), []byte("{a,b,1}"), []byte("{P1,P2,W1}")}}},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/runs/5f0c1a52-0c1e-4b51-9a39-2b4a53a0f6a1/assignments.csv", a.signEmail("root@example.com"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoundMemberLookupFailureIsServerError(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM round_admins", err: errConnReset},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/me", a.signEmail("alice@example.com"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = request(a, http.MethodPut, "/api/rounds/1/slots", a.signEmail("alice@example.com"), "Project;W1\nP1;1\n")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoundMemberStudentScanFailureIsServerError(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM round_admins", columns: []string{"exists"}, rows: [][]driver.Value{{false}}},
		answer{match: "FROM students WHERE round_id", columns: []string{"id"}, rows: [][]driver.Value{{int64(5)}}, rowsErr: errConnReset},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/me", a.signEmail("alice@example.com"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoundMeOutsiderIsForbidden(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM round_admins", columns: []string{"exists"}, rows: [][]driver.Value{{false}}},
		answer{match: "FROM students WHERE round_id", columns: []string{"id"}},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/me", a.signEmail("alice@example.com"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoundMePlacementFailureIsServerError(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM round_admins", columns: []string{"exists"}, rows: [][]driver.Value{{false}}},
		answer{match: "FROM students WHERE round_id", columns: []string{"id"}, rows: [][]driver.Value{{int64(5)}}},
		answer{match: "FROM solve_runs", columns: []string{"id"}},
		answer{match: "LEFT JOIN run_assignments", err: errConnReset},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/me", a.signEmail("alice@example.com"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoundMeShowsPlacement(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t,
		answer{match: "FROM round_admins", columns: []string{"exists"}, rows: [][]driver.Value{{false}}},
		answer{match: "FROM students WHERE round_id", columns: []string{"id"}, rows: [][]driver.Value{{int64(5)}}},
		answer{match: "FROM solve_runs", columns: []string{"id"}, rows: [][]driver.Value{{"5f0c1a52-0c1e-4b51-9a39-2b4a53a0f6a1"}}},
		answer{match: "LEFT JOIN run_assignments", columns: []string{"id", "meta", "name", "work_package", "project_rank", "work_package_rank"}, rows: [][]driver.Value{
			{int64(5), []byte("{Alice,A,alice@example.com}"), "P2", "W1", int64(1), int64(0)},
		}},
	)
	rec := request(a, http.MethodGet, "/api/rounds/1/me", a.signEmail("alice@example.com"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"role": "student", "students": [{
		"student_id": 5, "meta": ["Alice", "A", "alice@example.com"],
		"project": "P2", "work_package": "W1", "project_choice": 2, "work_package_choice": 1
	}]}`, rec.Body.String())
}

func TestRemoveRoundAdminScopedToRound(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t, answer{match: "DELETE FROM round_admins"})
	root := a.signEmail("root@example.com")

	rec := request(a, http.MethodDelete, "/api/rounds/abc/admins/12", root, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid round ID")

	rec = request(a, http.MethodDelete, "/api/rounds/7/admins/12", root, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	execs := execsFor(t)
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0].query, "round_id = $2")
	assert.Equal(t, []driver.Value{int64(12), int64(7)}, execs[0].args)
}

func TestRemoveRoundAdmin(t *testing.T) {
	a := testApp()
	a.db = scriptedDB(t, answer{match: "DELETE FROM round_admins", affected: 1})
	rec := request(a, http.MethodDelete, "/api/rounds/7/admins/12", a.signEmail("root@example.com"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
