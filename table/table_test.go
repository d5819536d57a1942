package table_test

import (
	"bytes"
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"projects/solver"
	"projects/table"
)

const slotsCSV = "Project;WP1;WP2\nAlpha;1;1\nBeta;2;0\n"

func readSlots(s string) *table.Slots {
	slots, err := table.ReadSlots(strings.NewReader(s), table.DefaultComma)
	Expect(err).NotTo(HaveOccurred())
	return slots
}

func readPrefs(s string) *table.Preferences {
	prefs, err := table.ReadPreferences(strings.NewReader(s), table.DefaultComma)
	Expect(err).NotTo(HaveOccurred())
	return prefs
}

var _ = Describe("ReadSlots", func() {
	It("reads identifiers and the capacity matrix in file order", func() {
		slots := readSlots(slotsCSV)
		Expect(slots.WorkPackages).To(Equal([]string{"WP1", "WP2"}))
		Expect(slots.Projects).To(Equal([]string{"Alpha", "Beta"}))
		Expect(slots.Capacity).To(Equal([][]int{{1, 1}, {2, 0}}))
		Expect(slots.Total()).To(Equal(4))
	})

	It("strips a byte order mark and skips blank lines", func() {
		slots := readSlots("\ufeffProject;WP1\n\nAlpha;3\n   \n")
		Expect(slots.Projects).To(Equal([]string{"Alpha"}))
		Expect(slots.Capacity).To(Equal([][]int{{3}}))
	})

	DescribeTable("rejects malformed tables",
		func(input string, line, column int) {
			_, err := table.ReadSlots(strings.NewReader(input), table.DefaultComma)
			var pe *table.ParseError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Line).To(Equal(line))
			Expect(pe.Column).To(Equal(column))
		},
		Entry("empty", "", 1, 0),
		Entry("no work-packages", "Project\nAlpha\n", 1, 0),
		Entry("no projects", "Project;WP1\n", 2, 0),
		Entry("ragged row", "Project;WP1;WP2\nAlpha;1\n", 2, 0),
		Entry("non-numeric cell", "Project;WP1\nAlpha;x\n", 2, 2),
		Entry("negative cell", "Project;WP1;WP2\nAlpha;1;-1\n", 2, 3),
	)

	It("honors another delimiter", func() {
		slots, err := table.ReadSlots(strings.NewReader("Project,WP1\nAlpha,2\n"), ',')
		Expect(err).NotTo(HaveOccurred())
		Expect(slots.Capacity).To(Equal([][]int{{2}}))
	})
})

var _ = Describe("ReadPreferences", func() {
	It("splits metadata from choices and records file lines", func() {
		prefs := readPrefs("Name;Surname;ID;P1;W1\nAda;L;1;Alpha;WP1\n\nAlan;T;2;Beta\n")
		Expect(prefs.Header).To(Equal([]string{"Name", "Surname", "ID"}))
		Expect(prefs.Len()).To(Equal(2))
		Expect(prefs.Meta[1]).To(Equal([]string{"Alan", "T", "2"}))
		Expect(prefs.Choices[0]).To(Equal([]string{"Alpha", "WP1"}))
		Expect(prefs.Choices[1]).To(Equal([]string{"Beta"}))
		Expect(prefs.Lines).To(Equal([]int{2, 4}))
	})

	It("requires the metadata columns", func() {
		_, err := table.ReadPreferences(strings.NewReader("Name;ID\n"), table.DefaultComma)
		Expect(err).To(MatchError(ContainSubstring("want at least 3")))
	})
})

var _ = Describe("Resolve", func() {
	var slots *table.Slots

	BeforeEach(func() {
		slots = readSlots("Project;WP1\nAlpha;1\nBeta;1\n")
	})

	It("maps identifiers onto indices", func() {
		prefs := readPrefs("N;S;ID;P1;P2;W1\na;b;1;Beta;Alpha;WP1\nc;d;2;Alpha;;WP1\n")
		inst, warnings, err := table.Resolve(slots, prefs, 2, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Students[0].Projects).To(Equal([]solver.Choice{solver.Pick(1), solver.Pick(0)}))
		Expect(inst.Students[1].Projects).To(Equal([]solver.Choice{solver.Pick(0), solver.NoPreference}))
		Expect(warnings).To(ConsistOf(table.Warning{Line: 3, Student: 1, Kind: table.KindProject, Rank: 1, Value: ""}))
	})

	It("warns on every unknown entry and still places the student", func() {
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Alpha;WP1\nc;d;2;Gamma;WP9\n")
		inst, warnings, err := table.Resolve(slots, prefs, 1, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(warnings).To(HaveLen(2))
		Expect(warnings[0].String()).To(Equal(`"Gamma" at row 3 is not in projects list, no priority given`))
		Expect(warnings[1].Kind).To(Equal(table.KindWorkPackage))

		params := solver.DefaultParams
		params.Trials = 20
		res, err := solver.Solve(context.Background(), inst, params, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Best.Assignments[1]).To(Equal(solver.Assignment{Project: 1, WorkPackage: 0}))
	})

	It("pads short rows with warned empty entries", func() {
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Alpha\nc;d;2;Beta;WP1\n")
		inst, warnings, err := table.Resolve(slots, prefs, 1, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Students[0].WorkPackages).To(Equal([]solver.Choice{solver.NoPreference}))
		Expect(warnings).To(HaveLen(1))
	})

	It("fails before resolving when capacity and population differ", func() {
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Nope;WP1\n")
		_, warnings, err := table.Resolve(slots, prefs, 1, 1)
		Expect(err).To(MatchError(solver.ErrCapacityMismatch))
		Expect(warnings).To(BeEmpty())
	})

	It("reports warnings without the capacity check", func() {
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Nope;WP1\n")
		Expect(table.Warnings(slots, prefs, 1, 1)).To(ConsistOf(
			table.Warning{Line: 2, Student: 0, Kind: table.KindProject, Rank: 0, Value: "Nope"},
		))
	})
})

var _ = Describe("WriteResult", func() {
	It("writes identifiers, 1-based ranks and the declared choices", func() {
		slots := readSlots("Project;WP1\nAlpha;1\nBeta;1\n")
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Alpha;WP1\nc;d;2;Alpha;Bad\n")
		assign := []solver.Assignment{
			{Project: 0, WorkPackage: 0},
			{Project: 1, ProjectRank: 1, WorkPackage: 0},
		}

		var buf bytes.Buffer
		Expect(table.WriteResult(&buf, table.DefaultComma, slots, prefs, assign, 1, 1)).To(Succeed())
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		Expect(lines).To(Equal([]string{
			"N;S;ID;Assigned Project;Assigned Work Package;Assigned Project Choice #;Assigned Work Package Choice #;Original Project Choice #1;Original Work Package Choice #1",
			"a;b;1;Alpha;WP1;1;1;Alpha;WP1",
			"c;d;2;Beta;WP1;2;1;Alpha;Bad",
		}))
	})

	It("rejects a mismatched assignment count", func() {
		slots := readSlots("Project;WP1\nAlpha;1\n")
		prefs := readPrefs("N;S;ID;P1;W1\na;b;1;Alpha;WP1\n")
		Expect(table.WriteResult(&bytes.Buffer{}, ';', slots, prefs, nil, 1, 1)).NotTo(Succeed())
	})
})
