package table

import (
	"fmt"

	"projects/solver"
)

type Kind string

const (
	KindProject     Kind = "project"
	KindWorkPackage Kind = "work-package"
)

// Warning is a preference entry that names no known identifier. The entry
// is treated as "no preference".
type Warning struct {
	Line    int    `json:"line"`
	Student int    `json:"student"`
	Kind    Kind   `json:"kind"`
	Rank    int    `json:"rank"`
	Value   string `json:"value"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%q at row %d is not in %ss list, no priority given", w.Value, w.Line, w.Kind)
}

func index(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		if _, ok := m[n]; !ok {
			m[n] = i
		}
	}
	return m
}

// Resolve maps the preference strings onto slot indices and builds the
// solver instance. The capacity/population precondition is checked before
// any preference is looked at.
func Resolve(slots *Slots, prefs *Preferences, numChoicesP, numChoicesW int) (*solver.Instance, []Warning, error) {
	if total := slots.Total(); total != prefs.Len() {
		return nil, nil, fmt.Errorf("%w: the number of students is %d, while the available slots are %d", solver.ErrCapacityMismatch, prefs.Len(), total)
	}
	students, warnings := resolveChoices(slots, prefs, numChoicesP, numChoicesW)
	inst, err := solver.NewInstance(slots.Capacity, students, numChoicesP, numChoicesW)
	if err != nil {
		return nil, warnings, err
	}
	return inst, warnings, nil
}

// Warnings reports the unknown preference entries without checking the
// capacity precondition.
func Warnings(slots *Slots, prefs *Preferences, numChoicesP, numChoicesW int) []Warning {
	_, warnings := resolveChoices(slots, prefs, numChoicesP, numChoicesW)
	return warnings
}

func resolveChoices(slots *Slots, prefs *Preferences, numChoicesP, numChoicesW int) ([]solver.Student, []Warning) {
	projects, workPackages := index(slots.Projects), index(slots.WorkPackages)

	var warnings []Warning
	students := make([]solver.Student, prefs.Len())
	for i, row := range prefs.Choices {
		line := i + 2
		if i < len(prefs.Lines) {
			line = prefs.Lines[i]
		}
		resolve := func(kind Kind, ids map[string]int, offset, n int) []solver.Choice {
			out := make([]solver.Choice, n)
			for r := range n {
				value := ""
				if offset+r < len(row) {
					value = row[offset+r]
				}
				if idx, ok := ids[value]; ok {
					out[r] = solver.Pick(idx)
					continue
				}
				warnings = append(warnings, Warning{Line: line, Student: i, Kind: kind, Rank: r, Value: value})
			}
			return out
		}
		students[i] = solver.Student{
			Projects:     resolve(KindProject, projects, 0, numChoicesP),
			WorkPackages: resolve(KindWorkPackage, workPackages, numChoicesP, numChoicesW),
		}
	}
	return students, warnings
}
