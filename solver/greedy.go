package solver

import (
	"fmt"
	"slices"
)

const unassigned = -1

// trial owns everything one restart mutates.
type trial struct {
	inst       *Instance
	order      []int
	assign     []Assignment
	remainingP []int
	remainingW [][]int
}

func newTrial(inst *Instance, order []int) *trial {
	t := &trial{
		inst:       inst,
		order:      order,
		assign:     make([]Assignment, inst.NumStudents()),
		remainingP: make([]int, inst.NumProjects()),
		remainingW: make([][]int, inst.NumProjects()),
	}
	for i := range t.assign {
		t.assign[i] = Assignment{Project: unassigned, WorkPackage: unassigned}
	}
	for p, row := range inst.Capacity {
		t.remainingP[p] = inst.ProjectCapacity(p)
		t.remainingW[p] = slices.Clone(row)
	}
	return t
}

// allocate runs the project stage in permutation order, then the
// work-package stage in reverse order, so that students served late for
// projects get first pick of work-packages. t.order is left reversed.
func (t *trial) allocate() error {
	t.assignProjects()
	if err := t.fillProjects(); err != nil {
		return err
	}
	slices.Reverse(t.order)
	t.assignWorkPackages()
	return t.fillWorkPackages()
}

func (t *trial) assignProjects() {
	for _, i := range t.order {
		a := &t.assign[i]
		if a.Project != unassigned {
			continue
		}
		for rank, c := range t.inst.Students[i].Projects {
			if !c.Valid || t.remainingP[c.Index] == 0 {
				continue
			}
			a.Project = c.Index
			a.ProjectRank = rank
			t.remainingP[c.Index]--
			break
		}
	}
}

func (t *trial) fillProjects() error {
	next := 0
	for p := range t.remainingP {
		for ; t.remainingP[p] > 0; t.remainingP[p]-- {
			for next < len(t.assign) && t.assign[next].Project != unassigned {
				next++
			}
			if next == len(t.assign) {
				return fmt.Errorf("%w: project %d has %d free slots left", ErrInconsistent, p, t.remainingP[p])
			}
			t.assign[next].Project = p
			t.assign[next].ProjectRank = freeRank(t.inst.Students[next].Projects, t.inst.NumChoicesP)
		}
	}
	for i := next; i < len(t.assign); i++ {
		if t.assign[i].Project == unassigned {
			return fmt.Errorf("%w: student %d left without a project", ErrInconsistent, i)
		}
	}
	return nil
}

func (t *trial) assignWorkPackages() {
	for _, i := range t.order {
		a := &t.assign[i]
		if a.WorkPackage != unassigned {
			continue
		}
		remaining := t.remainingW[a.Project]
		for rank, c := range t.inst.Students[i].WorkPackages {
			if !c.Valid || remaining[c.Index] == 0 {
				continue
			}
			a.WorkPackage = c.Index
			a.WorkPackageRank = rank
			remaining[c.Index]--
			break
		}
	}
}

func (t *trial) fillWorkPackages() error {
	for p, row := range t.remainingW {
		for w := range row {
			for ; row[w] > 0; row[w]-- {
				i := slices.IndexFunc(t.order, func(x int) bool {
					return t.assign[x].WorkPackage == unassigned && t.assign[x].Project == p
				})
				if i < 0 {
					return fmt.Errorf("%w: project %d work-package %d has %d free slots left", ErrInconsistent, p, w, row[w])
				}
				s := t.order[i]
				t.assign[s].WorkPackage = w
				t.assign[s].WorkPackageRank = freeRank(t.inst.Students[s].WorkPackages, t.inst.NumChoicesW)
			}
		}
	}
	for i, a := range t.assign {
		if a.WorkPackage == unassigned {
			return fmt.Errorf("%w: student %d left without a work-package", ErrInconsistent, i)
		}
	}
	return nil
}
