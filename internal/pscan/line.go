package pscan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "smxpscan/internal/errors"
	"smxpscan/pkg/contracts/domain"
)

var linePattern = regexp.MustCompile(`^\s*vp\s+(\d+)\s+ch\s+(\d+)\s*:((?:\s+\d+)+)\s*$`)

// LineParser turns data lines into measurements for one header layout
type LineParser struct {
	header  Header
	targets []int
}

// NewLineParser creates a parser for data lines following header
func NewLineParser(header Header) *LineParser {
	return &LineParser{header: header, targets: header.targets()}
}

// Expected returns the number of values a complete data line carries
func (lp *LineParser) Expected() int {
	return len(lp.header.Slots) + 1
}

// Parse converts one data line. missing is the number of values the line
// lacks; those hit slots and the timing value stay zero. A line that does
// not follow `vp <int> ch <int>: <int>...` returns a PARSE_WARNING error.
func (lp *LineParser) Parse(line string) (m domain.Measurement, missing int, err error) {
	match := linePattern.FindStringSubmatch(line)
	if match == nil {
		return m, 0, apperrors.NewParseWarning("data line does not match grammar", nil)
	}

	amplitude, err := strconv.Atoi(match[1])
	if err != nil {
		return m, 0, apperrors.NewParseWarning("pulse amplitude out of range", err)
	}
	channel, err := strconv.Atoi(match[2])
	if err != nil {
		return m, 0, apperrors.NewParseWarning("channel out of range", err)
	}
	if channel >= domain.NumChannels {
		return m, 0, apperrors.NewParseWarning(fmt.Sprintf("channel %d outside [0,%d)", channel, domain.NumChannels), nil)
	}

	fields := strings.Fields(match[3])
	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return m, 0, apperrors.NewParseWarning(fmt.Sprintf("value %q out of range", f), err)
		}
		values[i] = v
	}

	m.Amplitude = amplitude
	m.Channel = channel
	for i, target := range lp.targets {
		if i >= len(values) {
			break
		}
		if target >= 0 {
			m.Hits[target] = values[i]
		}
	}
	if timing := len(lp.targets); timing < len(values) {
		m.Timing = values[timing]
	}

	if n := lp.Expected() - len(values); n > 0 {
		missing = n
	}
	return m, missing, nil
}
