package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"projects/solver"
)

func ResultHeader(prefs *Preferences, numChoicesP, numChoicesW int) []string {
	header := append([]string{}, prefs.Header...)
	header = append(header, "Assigned Project", "Assigned Work Package", "Assigned Project Choice #", "Assigned Work Package Choice #")
	for k := range numChoicesP {
		header = append(header, fmt.Sprintf("Original Project Choice #%d", k+1))
	}
	for k := range numChoicesW {
		header = append(header, fmt.Sprintf("Original Work Package Choice #%d", k+1))
	}
	return header
}

// ResultRow renders one student. Ranks are 1-based, so the overflow
// sentinel shows as numChoices+1.
func ResultRow(slots *Slots, prefs *Preferences, i int, a solver.Assignment, numChoicesP, numChoicesW int) []string {
	row := append([]string{}, prefs.Meta[i]...)
	row = append(row,
		slots.Projects[a.Project],
		slots.WorkPackages[a.WorkPackage],
		strconv.Itoa(a.ProjectRank+1),
		strconv.Itoa(a.WorkPackageRank+1),
	)
	for k := range numChoicesP + numChoicesW {
		value := ""
		if k < len(prefs.Choices[i]) {
			value = prefs.Choices[i][k]
		}
		row = append(row, value)
	}
	return row
}

func WriteResult(w io.Writer, comma rune, slots *Slots, prefs *Preferences, assign []solver.Assignment, numChoicesP, numChoicesW int) error {
	if len(assign) != prefs.Len() {
		return fmt.Errorf("%d assignments for %d students", len(assign), prefs.Len())
	}
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(ResultHeader(prefs, numChoicesP, numChoicesW)); err != nil {
		return err
	}
	for i, a := range assign {
		if err := cw.Write(ResultRow(slots, prefs, i, a, numChoicesP, numChoicesW)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
