package runner

import (
	"strconv"
	"strings"
)

// finalizePercent is where progress sits while the tool merges audio
// and video streams; the merge phase reports no percentages of its own.
const finalizePercent = 95

// ParseProgress extracts a completion percentage from one line of tool
// output. Download lines look like
//
//	[download]  45.2% of 120.50MiB at 2.35MiB/s ETA 00:32
//
// and the merge phase is signalled by a [Merger] line, reported as the
// pinned finalize percentage. Returns ok=false for lines carrying no
// progress information.
func ParseProgress(line string) (percent float64, ok bool) {
	if strings.Contains(line, "[Merger]") || strings.Contains(line, "Merging") {
		return finalizePercent, true
	}
	if !strings.Contains(line, "[download]") || !strings.Contains(line, "%") {
		return 0, false
	}
	before := strings.SplitN(line, "%", 2)[0]
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return 0, false
	}
	percent, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}
