package solver

// Stats counts students per achieved rank. Index k is the (k+1)-th choice;
// the last index is the overflow sentinel.
type Stats struct {
	Students     int     `json:"students"`
	Projects     []int   `json:"projects"`
	WorkPackages []int   `json:"work_packages"`
	Combined     [][]int `json:"combined"`
}

func (inst *Instance) Summarize(assign []Assignment) Stats {
	st := Stats{
		Students:     len(assign),
		Projects:     make([]int, inst.NumChoicesP+1),
		WorkPackages: make([]int, inst.NumChoicesW+1),
		Combined:     make([][]int, inst.NumChoicesP+1),
	}
	for p := range st.Combined {
		st.Combined[p] = make([]int, inst.NumChoicesW+1)
	}
	for _, a := range assign {
		st.Projects[a.ProjectRank]++
		st.WorkPackages[a.WorkPackageRank]++
		st.Combined[a.ProjectRank][a.WorkPackageRank]++
	}
	return st
}

func (st Stats) Percent(n int) float64 {
	if st.Students == 0 {
		return 0
	}
	return 100 * float64(n) / float64(st.Students)
}
