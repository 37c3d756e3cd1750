package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ScanTestFixtures builds pulse-scan files for tests
type ScanTestFixtures struct {
	TestDataDir string
}

// NewScanTestFixtures creates a new fixtures manager rooted at a temp dir
func NewScanTestFixtures(t *testing.T) *ScanTestFixtures {
	return &ScanTestFixtures{TestDataDir: t.TempDir()}
}

// ScanFileName holds the values encoded in a scan file name
type ScanFileName struct {
	Stamp   string
	AsicID  string
	VrefP   int
	VrefN   int
	VrefT   int
	Thr2Glb int
	Pulses  int
}

// DefaultScanFileName returns a well-formed file name description
func DefaultScanFileName() ScanFileName {
	return ScanFileName{
		Stamp:   "230415_1342",
		AsicID:  "XA-000-08-002-000-006-205-02",
		VrefP:   58,
		VrefN:   22,
		VrefT:   186,
		Thr2Glb: 40,
		Pulses:  100,
	}
}

// Name renders the file name in the acquisition naming scheme
func (s ScanFileName) Name() string {
	return fmt.Sprintf("pscan_%s_%s_ELECTRON_SET_%d_%d_%d_%d_CAL_NP_%d_feb_b.txt",
		s.Stamp, s.AsicID, s.VrefP, s.VrefN, s.VrefT, s.Thr2Glb, s.Pulses)
}

// HeaderLine renders the first line of a scan file for discList
func HeaderLine(discList []int) string {
	parts := make([]string, len(discList))
	for i, d := range discList {
		parts[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("# pscan ASIC hw 1 DISC_LIST:[%s] vp range", strings.Join(parts, ","))
}

// DataLine renders one measurement line
func DataLine(amplitude, channel int, values ...int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "vp %d ch %d:", amplitude, channel)
	for _, v := range values {
		fmt.Fprintf(&b, " %d", v)
	}
	return b.String()
}

// WriteScanFile writes header and lines to name inside the fixtures dir
func (f *ScanTestFixtures) WriteScanFile(t *testing.T, name string, header string, lines ...string) string {
	t.Helper()
	path := filepath.Join(f.TestDataDir, name)
	content := header + "\n" + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scan fixture: %v", err)
	}
	return path
}

// Sweep describes a synthetic amplitude sweep of one channel
type Sweep struct {
	Channel    int
	DiscList   []int
	Amplitudes []int
	Pulses     int
	// Thresholds holds the 50% amplitude per fit comparator, in discList order
	Thresholds []float64
	Sigma      float64
	Timing     int
}

// ExpectedCount is the noise-free hit count of an erfc turn-on curve
func ExpectedCount(amplitude int, threshold, sigma float64, pulses int) int {
	p := 0.5 * math.Erfc((threshold-float64(amplitude))/(math.Sqrt2*sigma))
	return int(math.Round(p * float64(pulses)))
}

// Lines renders the sweep. Comparators past len(Thresholds) and the timing
// slot report Timing on every line.
func (s Sweep) Lines() []string {
	lines := make([]string, 0, len(s.Amplitudes))
	for _, amp := range s.Amplitudes {
		values := make([]int, 0, len(s.DiscList)+1)
		for i := range s.DiscList {
			if i < len(s.Thresholds) {
				values = append(values, ExpectedCount(amp, s.Thresholds[i], s.Sigma, s.Pulses))
			} else {
				values = append(values, s.Timing)
			}
		}
		values = append(values, s.Timing)
		lines = append(lines, DataLine(amp, s.Channel, values...))
	}
	return lines
}

// AmplitudeRange returns from, from+step, ... up to and including to
func AmplitudeRange(from, to, step int) []int {
	var out []int
	for a := from; a <= to; a += step {
		out = append(out, a)
	}
	return out
}
