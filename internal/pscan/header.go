package pscan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	apperrors "smxpscan/internal/errors"
	"smxpscan/pkg/contracts/domain"
)

var discListPattern = regexp.MustCompile(`\bDISC_LIST:\[(.*?)\]`)

// Header is the comparator layout declared on the first line of a scan file
type Header struct {
	// Found is false when the line carries no DISC_LIST marker
	Found bool
	// Slots maps the value position in a data line to a comparator index, as written
	Slots []int
	// DiscList is Slots with repeated indices removed, order preserved
	DiscList []int
}

// ParseHeader extracts the comparator list from a header line. The returned
// warnings describe recoverable problems; the header is usable regardless.
func ParseHeader(line string) (Header, []error) {
	var h Header
	var warnings []error

	match := discListPattern.FindStringSubmatch(line)
	if match == nil {
		return h, []error{apperrors.NewParseWarning("DISC_LIST marker not found in header", nil)}
	}
	h.Found = true

	tokens := strings.FieldsFunc(match[1], func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	seen := make(map[int]bool, len(tokens))
	for _, tok := range tokens {
		idx, err := strconv.Atoi(tok)
		if err != nil {
			warnings = append(warnings, apperrors.NewParseWarning(
				fmt.Sprintf("DISC_LIST entry %q is not an integer, list truncated", tok), err))
			break
		}
		h.Slots = append(h.Slots, idx)
		if seen[idx] {
			warnings = append(warnings, apperrors.NewParseWarning(
				fmt.Sprintf("DISC_LIST repeats comparator %d, later column ignored", idx), nil))
			continue
		}
		seen[idx] = true
		h.DiscList = append(h.DiscList, idx)
		if !validComparator(idx) {
			warnings = append(warnings, apperrors.NewParseWarning(
				fmt.Sprintf("DISC_LIST comparator %d outside [0,%d), column ignored", idx, domain.NumComparators), nil))
		}
	}

	return h, warnings
}

// targets returns, per slot, the hit-array index its value is stored at or -1
func (h Header) targets() []int {
	out := make([]int, len(h.Slots))
	seen := make(map[int]bool, len(h.Slots))
	for i, idx := range h.Slots {
		out[i] = -1
		if validComparator(idx) && !seen[idx] {
			out[i] = idx
		}
		seen[idx] = true
	}
	return out
}

func validComparator(idx int) bool {
	return idx >= 0 && idx < domain.NumComparators
}
