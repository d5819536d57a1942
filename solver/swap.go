package solver

// axis selects which half of an assignment a swap pass trades. Partners must
// agree on the other half, so a trade never moves a unit of capacity between
// (project, work-package) cells.
type axis struct {
	choices  func(s Student) []Choice
	slot     func(a *Assignment) *int
	rank     func(a *Assignment) *int
	anchor   func(a Assignment) int
	overflow int
}

func projectAxis(inst *Instance) axis {
	return axis{
		choices:  func(s Student) []Choice { return s.Projects },
		slot:     func(a *Assignment) *int { return &a.Project },
		rank:     func(a *Assignment) *int { return &a.ProjectRank },
		anchor:   func(a Assignment) int { return a.WorkPackage },
		overflow: inst.NumChoicesP,
	}
}

func workPackageAxis(inst *Instance) axis {
	return axis{
		choices:  func(s Student) []Choice { return s.WorkPackages },
		slot:     func(a *Assignment) *int { return &a.WorkPackage },
		rank:     func(a *Assignment) *int { return &a.WorkPackageRank },
		anchor:   func(a Assignment) int { return a.Project },
		overflow: inst.NumChoicesW,
	}
}

type exchange struct {
	student, partner         int
	studentRank, partnerRank int
}

// optimize alternates project and work-package swap passes until neither
// schedules an exchange. It returns the number of rounds that changed
// something and false if more than maxRounds rounds changed something.
func (t *trial) optimize(maxRounds int) (int, bool) {
	px, wx := projectAxis(t.inst), workPackageAxis(t.inst)
	rounds := 0
	for {
		changed := t.apply(px, t.schedule(px)) > 0
		if t.apply(wx, t.schedule(wx)) > 0 {
			changed = true
		}
		if !changed {
			return rounds, true
		}
		rounds++
		if maxRounds > 0 && rounds > maxRounds {
			return rounds, false
		}
	}
}

// schedule collects the exchanges of one pass. Overflow students are
// visited in the current scan order; for each, its ranks are tried best
// first and the first rank with a partner wins. Partners are searched rank
// by rank of the partner's own list, then in scan order. Each student takes
// part in at most one exchange per pass.
func (t *trial) schedule(ax axis) []exchange {
	var out []exchange
	reserved := make([]bool, len(t.assign))
	for _, i := range t.order {
		if reserved[i] || *ax.rank(&t.assign[i]) != ax.overflow {
			continue
		}
		for b, want := range ax.choices(t.inst.Students[i]) {
			if !want.Valid {
				continue
			}
			s, rank, ok := t.partner(ax, i, want.Index, reserved)
			if !ok {
				continue
			}
			reserved[i], reserved[s] = true, true
			out = append(out, exchange{student: i, partner: s, studentRank: b, partnerRank: rank})
			break
		}
	}
	return out
}

// partner finds a student holding slot target with the same anchor as i who
// would accept i's slot, either because it is on their list or because they
// left a rank open.
func (t *trial) partner(ax axis, i, target int, reserved []bool) (int, int, bool) {
	mine := t.assign[i]
	have := *ax.slot(&mine)
	for rank := range ax.overflow {
		for _, s := range t.order {
			if s == i || reserved[s] {
				continue
			}
			theirs := t.assign[s]
			if *ax.slot(&theirs) != target || ax.anchor(theirs) != ax.anchor(mine) {
				continue
			}
			c := ax.choices(t.inst.Students[s])[rank]
			if c.Valid && c.Index != have {
				continue
			}
			return s, rank, true
		}
	}
	return 0, 0, false
}

func (t *trial) apply(ax axis, xs []exchange) int {
	for _, x := range xs {
		a, b := &t.assign[x.student], &t.assign[x.partner]
		sa, sb := ax.slot(a), ax.slot(b)
		*sa, *sb = *sb, *sa
		*ax.rank(a) = x.studentRank
		*ax.rank(b) = x.partnerRank
	}
	return len(xs)
}
