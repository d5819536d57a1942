package solver

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityMismatch = errors.New("total capacity does not match number of students")
	ErrInconsistent     = errors.New("remaining capacity does not match unassigned students")
	ErrInvalidInstance  = errors.New("invalid instance")
)

// Choice is one entry of a ranked preference list. The zero value is "no
// preference", which never matches a slot and never consumes capacity.
type Choice struct {
	Index int
	Valid bool
}

var NoPreference = Choice{}

func Pick(index int) Choice {
	return Choice{Index: index, Valid: true}
}

func (c Choice) String() string {
	if !c.Valid {
		return "-"
	}
	return fmt.Sprint(c.Index)
}

type Student struct {
	Projects     []Choice
	WorkPackages []Choice
}

// Instance is the immutable preference/capacity model shared by all trials.
// Capacity is indexed [project][workPackage].
type Instance struct {
	Capacity    [][]int
	Students    []Student
	NumChoicesP int
	NumChoicesW int

	projectCap []int
}

func NewInstance(capacity [][]int, students []Student, numChoicesP, numChoicesW int) (*Instance, error) {
	inst := &Instance{
		Capacity:    capacity,
		Students:    students,
		NumChoicesP: numChoicesP,
		NumChoicesW: numChoicesW,
	}
	projectCap, err := inst.validate()
	if err != nil {
		return nil, err
	}
	inst.projectCap = projectCap
	return inst, nil
}

func (inst *Instance) NumProjects() int { return len(inst.Capacity) }

func (inst *Instance) NumWorkPackages() int {
	if len(inst.Capacity) == 0 {
		return 0
	}
	return len(inst.Capacity[0])
}

func (inst *Instance) NumStudents() int { return len(inst.Students) }

// ProjectCapacity is the sum of the project's work-package capacities.
func (inst *Instance) ProjectCapacity(p int) int {
	return inst.projectCap[p]
}

func (inst *Instance) TotalCapacity() int {
	total := 0
	for _, c := range inst.projectCap {
		total += c
	}
	return total
}

// validate checks the model and returns the per-project capacity sums. It
// only reads inst, so concurrent solves may call it on a shared instance.
func (inst *Instance) validate() ([]int, error) {
	if inst.NumChoicesP < 1 || inst.NumChoicesW < 1 {
		return nil, fmt.Errorf("%w: choice counts must be at least 1 (got %d, %d)", ErrInvalidInstance, inst.NumChoicesP, inst.NumChoicesW)
	}
	if len(inst.Capacity) == 0 {
		return nil, fmt.Errorf("%w: no projects", ErrInvalidInstance)
	}
	numW := len(inst.Capacity[0])
	if numW == 0 {
		return nil, fmt.Errorf("%w: no work-packages", ErrInvalidInstance)
	}
	projectCap := make([]int, len(inst.Capacity))
	for p, row := range inst.Capacity {
		if len(row) != numW {
			return nil, fmt.Errorf("%w: project %d has %d work-package capacities, want %d", ErrInvalidInstance, p, len(row), numW)
		}
		for w, c := range row {
			if c < 0 {
				return nil, fmt.Errorf("%w: negative capacity %d at project %d work-package %d", ErrInvalidInstance, c, p, w)
			}
			projectCap[p] += c
		}
	}
	for i, s := range inst.Students {
		if len(s.Projects) != inst.NumChoicesP {
			return nil, fmt.Errorf("%w: student %d has %d project choices, want %d", ErrInvalidInstance, i, len(s.Projects), inst.NumChoicesP)
		}
		if len(s.WorkPackages) != inst.NumChoicesW {
			return nil, fmt.Errorf("%w: student %d has %d work-package choices, want %d", ErrInvalidInstance, i, len(s.WorkPackages), inst.NumChoicesW)
		}
		for _, c := range s.Projects {
			if c.Valid && (c.Index < 0 || c.Index >= len(inst.Capacity)) {
				return nil, fmt.Errorf("%w: student %d prefers unknown project %d", ErrInvalidInstance, i, c.Index)
			}
		}
		for _, c := range s.WorkPackages {
			if c.Valid && (c.Index < 0 || c.Index >= numW) {
				return nil, fmt.Errorf("%w: student %d prefers unknown work-package %d", ErrInvalidInstance, i, c.Index)
			}
		}
	}
	total := 0
	for _, c := range projectCap {
		total += c
	}
	if total != len(inst.Students) {
		return nil, fmt.Errorf("%w: %d students, %d slots", ErrCapacityMismatch, len(inst.Students), total)
	}
	return projectCap, nil
}

// Assignment is one student's placement. A rank equal to the instance's
// choice count is the overflow sentinel: no declared choice was honored.
type Assignment struct {
	Project         int
	WorkPackage     int
	ProjectRank     int
	WorkPackageRank int
}

// freeRank returns the first rank holding no preference, or overflow.
func freeRank(choices []Choice, overflow int) int {
	for r, c := range choices {
		if !c.Valid {
			return r
		}
	}
	return overflow
}
