package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"projects/table"
)

// roundTables is a round's slot and preference tables as stored, with the
// database ids of the projects and students in table order.
type roundTables struct {
	slots      *table.Slots
	prefs      *table.Preferences
	projectIDs []int64
	studentIDs []int64
}

func delimiterParam(r *http.Request) (rune, error) {
	d := r.URL.Query().Get("delimiter")
	if d == "" {
		return table.DefaultComma, nil
	}
	if utf8.RuneCountInString(d) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	c, _ := utf8.DecodeRuneInString(d)
	return c, nil
}

// emailColumn finds the metadata column holding student emails, or -1.
func emailColumn(header []string) int {
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "email", "e-mail", "mail":
			return i
		}
	}
	return -1
}

func (a *app) loadTables(roundID int64) (*roundTables, error) {
	var workPackages, metaHeader pq.StringArray
	err := a.db.QueryRow("SELECT work_packages, meta_header FROM rounds WHERE id = $1", roundID).Scan(&workPackages, &metaHeader)
	if err != nil {
		return nil, err
	}
	t := &roundTables{
		slots: &table.Slots{WorkPackages: workPackages},
		prefs: &table.Preferences{Header: metaHeader},
	}

	rows, err := a.db.Query("SELECT id, name, capacities FROM projects WHERE round_id = $1 ORDER BY position", roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		var caps pq.Int64Array
		if err := rows.Scan(&id, &name, &caps); err != nil {
			return nil, err
		}
		if len(caps) != len(workPackages) {
			return nil, fmt.Errorf("project %q has %d capacities for %d work-packages", name, len(caps), len(workPackages))
		}
		row := make([]int, len(caps))
		for w, c := range caps {
			row[w] = int(c)
		}
		t.projectIDs = append(t.projectIDs, id)
		t.slots.Projects = append(t.slots.Projects, name)
		t.slots.Capacity = append(t.slots.Capacity, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := a.db.Query("SELECT id, line, meta, choices FROM students WHERE round_id = $1 ORDER BY position", roundID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var id int64
		var line int
		var meta, choices pq.StringArray
		if err := srows.Scan(&id, &line, &meta, &choices); err != nil {
			return nil, err
		}
		t.studentIDs = append(t.studentIDs, id)
		t.prefs.Lines = append(t.prefs.Lines, line)
		t.prefs.Meta = append(t.prefs.Meta, meta)
		t.prefs.Choices = append(t.prefs.Choices, choices)
	}
	return t, srows.Err()
}

func (a *app) handleUploadSlots(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	comma, err := delimiterParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slots, err := table.ReadSlots(r.Body, comma)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := a.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	result, err := tx.Exec("UPDATE rounds SET work_packages = $2 WHERE id = $1", roundID, pq.Array(slots.WorkPackages))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	if _, err := tx.Exec("DELETE FROM projects WHERE round_id = $1", roundID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stmt, err := tx.Prepare(pq.CopyIn("projects", "round_id", "position", "name", "capacities"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for p, name := range slots.Projects {
		caps := make([]int64, len(slots.Capacity[p]))
		for i, c := range slots.Capacity[p] {
			caps[i] = int64(c)
		}
		if _, err := stmt.Exec(roundID, p, name, pq.Array(caps)); err != nil {
			stmt.Close()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := stmt.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.log.Info("slots uploaded", zap.Int64("round", roundID), zap.Int("projects", len(slots.Projects)),
		zap.Int("workPackages", len(slots.WorkPackages)), zap.Int("slots", slots.Total()))
	writeJSON(w, http.StatusOK, map[string]any{
		"projects":      slots.Projects,
		"work_packages": slots.WorkPackages,
		"slots":         slots.Total(),
	})
}

func (a *app) handleUploadPreferences(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	comma, err := delimiterParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prefs, err := table.ReadPreferences(r.Body, comma)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := a.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	result, err := tx.Exec("UPDATE rounds SET meta_header = $2 WHERE id = $1", roundID, pq.Array(prefs.Header))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	if _, err := tx.Exec("DELETE FROM students WHERE round_id = $1", roundID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stmt, err := tx.Prepare(pq.CopyIn("students", "round_id", "position", "line", "email", "meta", "choices"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	col := emailColumn(prefs.Header)
	for i := range prefs.Len() {
		email := ""
		if col >= 0 {
			email = strings.TrimSpace(prefs.Meta[i][col])
		}
		if _, err := stmt.Exec(roundID, i, prefs.Lines[i], email, pq.Array(prefs.Meta[i]), pq.Array(prefs.Choices[i])); err != nil {
			stmt.Close()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := stmt.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tables, err := a.loadTables(roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, settings, err := a.loadSettings(roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	warnings := []table.Warning{}
	if len(tables.slots.Projects) > 0 {
		warnings = append(warnings, table.Warnings(tables.slots, prefs, settings.NumChoicesP, settings.NumChoicesW)...)
	}
	messages := make([]string, len(warnings))
	for i, wn := range warnings {
		a.metrics.ObserveWarning(string(wn.Kind))
		a.log.Warn(wn.String(), zap.Int64("round", roundID))
		messages[i] = wn.String()
	}

	a.log.Info("preferences uploaded", zap.Int64("round", roundID), zap.Int("students", prefs.Len()), zap.Int("warnings", len(warnings)))
	writeJSON(w, http.StatusOK, map[string]any{
		"students": prefs.Len(),
		"slots":    tables.slots.Total(),
		"ready":    len(tables.slots.Projects) > 0 && tables.slots.Total() == prefs.Len(),
		"warnings": warnings,
		"messages": messages,
	})
}

func (a *app) handleListStudents(w http.ResponseWriter, r *http.Request) {
	_, roundID, ok := a.requireRoundAdmin(w, r)
	if !ok {
		return
	}
	rows, err := a.db.Query("SELECT id, position, line, email, meta, choices FROM students WHERE round_id = $1 ORDER BY position", roundID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type student struct {
		ID       int64    `json:"id"`
		Position int      `json:"position"`
		Line     int      `json:"line"`
		Email    string   `json:"email"`
		Meta     []string `json:"meta"`
		Choices  []string `json:"choices"`
	}
	students := []student{}
	for rows.Next() {
		var s student
		var meta, choices pq.StringArray
		if err := rows.Scan(&s.ID, &s.Position, &s.Line, &s.Email, &meta, &choices); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.Meta, s.Choices = meta, choices
		students = append(students, s)
	}
	writeJSON(w, http.StatusOK, students)
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
