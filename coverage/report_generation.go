package coverage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// LCOVReportFileName is the name of the report written by WriteLCOVReport.
const LCOVReportFileName = "lcov.info"

// GenerateLCOVReport renders the report in the LCOV tracefile format.
// The format is described at https://github.com/linux-test-project/lcov/blob/07a1127c2b4390abf4a516e9763fb28a956a9ce4/man/geninfo.1#L989
func (r *Report) GenerateLCOVReport() string {
	var buffer bytes.Buffer
	buffer.WriteString("TN:\n")
	for _, source := range r.SortedSources() {
		// SF:<path to the source file>
		buffer.WriteString(fmt.Sprintf("SF:%s\n", source.SourceID))

		// FN:<line number>,<function name>
		// FNDA:<execution count>,<function name>
		functionsFound, functionsHit := 0, 0
		for _, contract := range source.Contracts {
			for _, function := range contract.Functions {
				// Builtin checks and getters have no line to report.
				if function.Name == BuiltinFunctionName || function.StartLine() == 0 {
					continue
				}
				buffer.WriteString(fmt.Sprintf("FN:%d,%s\n", function.StartLine(), function.FullName))
				buffer.WriteString(fmt.Sprintf("FNDA:%d,%s\n", function.HitCount(), function.FullName))
				functionsFound++
				if function.IsCovered() {
					functionsHit++
				}
			}
		}
		buffer.WriteString(fmt.Sprintf("FNF:%d\nFNH:%d\n", functionsFound, functionsHit))

		// DA:<line number>,<execution count>
		lineHits := make(map[int]int)
		for _, contract := range source.Contracts {
			for _, statement := range contract.Statements() {
				if statement.Location == nil {
					continue
				}
				line := statement.Location.StartLine
				lineHits[line] = max(lineHits[line], statement.HitCount)
			}
		}
		lines := make([]int, 0, len(lineHits))
		for line := range lineHits {
			lines = append(lines, line)
		}
		sort.Ints(lines)
		linesHit := 0
		for _, line := range lines {
			buffer.WriteString(fmt.Sprintf("DA:%d,%d\n", line, lineHits[line]))
			if lineHits[line] > 0 {
				linesHit++
			}
		}
		buffer.WriteString(fmt.Sprintf("LF:%d\nLH:%d\n", len(lines), linesHit))
		buffer.WriteString("end_of_record\n")
	}
	return buffer.String()
}

// WriteLCOVReport writes the LCOV rendering of the report into reportDir and returns the file path.
func WriteLCOVReport(report *Report, reportDir string) (string, error) {
	// If the directory doesn't exist, create it.
	err := utils.MakeDirectory(reportDir)
	if err != nil {
		return "", err
	}

	lcovReportPath := filepath.Join(reportDir, LCOVReportFileName)
	err = os.WriteFile(lcovReportPath, []byte(report.GenerateLCOVReport()), 0644)
	if err != nil {
		return "", errors.Wrap(err, "could not export LCOV report")
	}
	return lcovReportPath, nil
}
