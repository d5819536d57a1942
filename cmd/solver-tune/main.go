package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"projects/solver"
	"projects/table"
)

func solutionKey(a []solver.Assignment) string {
	var buf strings.Builder
	for _, s := range a {
		buf.WriteString(strconv.Itoa(s.Project))
		buf.WriteByte('/')
		buf.WriteString(strconv.Itoa(s.WorkPackage))
		buf.WriteByte(';')
	}
	return buf.String()
}

type runResult struct {
	cost         float64
	solution     []solver.Assignment
	overflowP    int
	overflowW    int
	cappedTrials int
	elapsed      time.Duration
}

func printStats(label string, results []runResult, runs int) {
	costs := map[float64]int{}
	solutionSets := map[string]int{}
	var totalTime time.Duration
	var overflowP, overflowW, capped int

	for _, r := range results {
		totalTime += r.elapsed
		costs[r.cost]++
		solutionSets[solutionKey(r.solution)]++
		overflowP += r.overflowP
		overflowW += r.overflowW
		capped += r.cappedTrials
	}

	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(runs))

	var costList []struct {
		cost  float64
		count int
	}
	for c, n := range costs {
		costList = append(costList, struct {
			cost  float64
			count int
		}{c, n})
	}
	sort.Slice(costList, func(i, j int) bool { return costList[i].cost < costList[j].cost })

	fmt.Printf("  cost distribution:\n")
	for _, c := range costList {
		fmt.Printf("    cost %.0f: %d/%d runs (%.0f%%)\n", c.cost, c.count, runs, float64(c.count)/float64(runs)*100)
	}

	fmt.Printf("  avg overflow: %.1f projects, %.1f work-packages\n", float64(overflowP)/float64(runs), float64(overflowW)/float64(runs))
	if capped > 0 {
		fmt.Printf("  capped trials: %d\n", capped)
	}
	fmt.Printf("  unique solutions seen: %d\n", len(solutionSets))

	stableCount := 0
	for _, n := range solutionSets {
		if n == runs {
			stableCount++
		}
	}
	fmt.Printf("  solutions found in all runs: %d\n", stableCount)
	fmt.Println()
}

func main() {
	slotsPath := pflag.String("slots", "Slots.csv", "slot/capacity table")
	prefsPath := pflag.String("preferences", "Preferences.csv", "preference table")
	delimiter := pflag.String("delimiter", ";", "field delimiter of both tables")
	numP := pflag.Int("num-choices-p", 3, "number of ranked project choices per student")
	numW := pflag.Int("num-choices-w", 3, "number of ranked work-package choices per student")
	runs := pflag.Int("runs", 20, "number of solver runs per parameter set")
	workers := pflag.Int("workers", 1, "number of trials run in parallel")
	trials := pflag.String("trials", "100,1000", "comma-separated restart counts")
	cross := pflag.String("cross", "9", "comma-separated cross-term exponents")
	over := pflag.String("over", "12", "comma-separated overflow exponents")
	pflag.Parse()

	if len(*delimiter) != 1 {
		fmt.Fprintf(os.Stderr, "delimiter must be one character\n")
		os.Exit(1)
	}
	comma := rune((*delimiter)[0])

	sf, err := os.Open(*slotsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading slots: %v\n", err)
		os.Exit(1)
	}
	slots, err := table.ReadSlots(sf, comma)
	sf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading slots: %v\n", err)
		os.Exit(1)
	}

	pf, err := os.Open(*prefsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading preferences: %v\n", err)
		os.Exit(1)
	}
	prefs, err := table.ReadPreferences(pf, comma)
	pf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading preferences: %v\n", err)
		os.Exit(1)
	}

	inst, warnings, err := table.Resolve(slots, prefs, *numP, *numW)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Students: %d, Projects: %d, Work-packages: %d, Unknown choices: %d\n",
		inst.NumStudents(), inst.NumProjects(), inst.NumWorkPackages(), len(warnings))
	fmt.Printf("Runs per config: %d\n\n", *runs)

	for _, nt := range parseIntList(*trials) {
		for _, cx := range parseFloatList(*cross) {
			for _, ov := range parseFloatList(*over) {
				params := solver.DefaultParams
				params.Trials = nt
				params.Workers = *workers
				params.Penalties.Cross = cx
				params.Penalties.Over = ov

				var results []runResult
				for run := range *runs {
					params.Seed = uint64(run * 31337)
					start := time.Now()
					res, err := solver.Solve(context.Background(), inst, params, nil)
					elapsed := time.Since(start)
					if err != nil {
						fmt.Fprintf(os.Stderr, "run %d: %v\n", run, err)
						continue
					}
					op, ow := inst.OverflowCounts(res.Best.Assignments)
					results = append(results, runResult{res.Best.Cost, res.Best.Assignments, op, ow, res.CappedTrials, elapsed})
				}
				label := fmt.Sprintf("trials=%d cross=%g over=%g", nt, cx, ov)
				printStats(label, results, *runs)
			}
		}
	}
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}

func parseFloatList(s string) []float64 {
	parts := strings.Split(s, ",")
	var result []float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
