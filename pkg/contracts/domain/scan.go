package domain

import (
	"fmt"
	"io"
	"time"
)

// Detector geometry of the SMX ASIC.
const (
	// NumChannels is the number of front-end channels per ASIC
	NumChannels = 128
	// NumComparators is the number of ADC discriminators per channel
	NumComparators = 31
	// MaxPulseAmplitude is the highest test-pulse amplitude code
	MaxPulseAmplitude = 255
)

const (
	// DefaultPulseCount is the number of injected pulses per amplitude when the file name does not say
	DefaultPulseCount = 100
	// DefaultAsicID is the placeholder device identifier used before a file name is parsed
	DefaultAsicID = "XA-000-00-000-000-000-000-00"
	// ReadTimeLayout is the display layout of the acquisition time
	ReadTimeLayout = "02 January 2006 15:04"
	// InvalidTimeText is rendered for a scan whose acquisition time could not be decoded
	InvalidTimeText = "Invalid time"
)

// AsicSettings holds the bias and threshold registers the scan was taken with
type AsicSettings struct {
	Pol        int `json:"pol"`
	VrefP      int `json:"vref_p"`
	VrefN      int `json:"vref_n"`
	Thr2Glb    int `json:"thr2_glb"`
	VrefT      int `json:"vref_t"`
	VrefTRange int `json:"vref_t_range"`
}

// DefaultAsicSettings returns the register values of an unconfigured ASIC
func DefaultAsicSettings() AsicSettings {
	return AsicSettings{
		Pol:        1,
		VrefP:      58,
		VrefN:      19,
		Thr2Glb:    34,
		VrefT:      118,
		VrefTRange: 1,
	}
}

// ScanMetadata describes one scan file. The zero ReadTime marks an
// acquisition time that could not be decoded.
type ScanMetadata struct {
	ReadTime   time.Time    `json:"read_time"`
	AsicID     string       `json:"asic_id"`
	PulseCount int          `json:"pulse_count"`
	Settings   AsicSettings `json:"settings"`
	FileName   string       `json:"file_name"`
	Dir        string       `json:"dir"`
}

// DefaultScanMetadata returns metadata with every field at its default
func DefaultScanMetadata() ScanMetadata {
	return ScanMetadata{
		AsicID:     DefaultAsicID,
		PulseCount: DefaultPulseCount,
		Settings:   DefaultAsicSettings(),
	}
}

// HasValidTime reports whether the acquisition time was decoded
func (m ScanMetadata) HasValidTime() bool {
	return !m.ReadTime.IsZero()
}

// FormatReadTime renders the acquisition time in local time
func (m ScanMetadata) FormatReadTime() string {
	if !m.HasValidTime() {
		return InvalidTimeText
	}
	return m.ReadTime.Local().Format(ReadTimeLayout)
}

// Measurement is one accepted data line of a scan file
type Measurement struct {
	Amplitude int                 `json:"amplitude"`
	Channel   int                 `json:"channel"`
	Hits      [NumComparators]int `json:"hits"`
	Timing    int                 `json:"timing"`
}

// ScanTable is the ordered set of measurements read from one scan file.
// It is append-only during ingestion and read-only afterwards; concurrent
// readers need no locking once ingestion has finished.
type ScanTable struct {
	metadata     ScanMetadata
	discList     []int
	measurements []Measurement
	byChannel    map[int][]int
	channels     []int
}

// NewScanTable creates an empty table for a scan with the given header list
func NewScanTable(metadata ScanMetadata, discList []int) *ScanTable {
	dl := make([]int, len(discList))
	copy(dl, discList)
	return &ScanTable{
		metadata:  metadata,
		discList:  dl,
		byChannel: make(map[int][]int),
	}
}

// Append adds a measurement in file order
func (t *ScanTable) Append(m Measurement) {
	idx := len(t.measurements)
	t.measurements = append(t.measurements, m)
	if _, seen := t.byChannel[m.Channel]; !seen {
		t.channels = append(t.channels, m.Channel)
	}
	t.byChannel[m.Channel] = append(t.byChannel[m.Channel], idx)
}

// Metadata returns the scan metadata
func (t *ScanTable) Metadata() ScanMetadata {
	return t.metadata
}

// DiscList returns a copy of the comparator list from the header
func (t *ScanTable) DiscList() []int {
	dl := make([]int, len(t.discList))
	copy(dl, t.discList)
	return dl
}

// FitComparators returns the header comparators that describe an amplitude
// threshold. The last header entry is the timing comparator and is left out.
func (t *ScanTable) FitComparators() []int {
	if len(t.discList) == 0 {
		return nil
	}
	out := make([]int, len(t.discList)-1)
	copy(out, t.discList[:len(t.discList)-1])
	return out
}

// TimingComparator returns the last header entry, if any
func (t *ScanTable) TimingComparator() (int, bool) {
	if len(t.discList) == 0 {
		return 0, false
	}
	return t.discList[len(t.discList)-1], true
}

// Len returns the number of measurements
func (t *ScanTable) Len() int {
	return len(t.measurements)
}

// Measurements returns a copy of all measurements in file order
func (t *ScanTable) Measurements() []Measurement {
	out := make([]Measurement, len(t.measurements))
	copy(out, t.measurements)
	return out
}

// ByChannel returns the measurements of one channel in file order
func (t *ScanTable) ByChannel(channel int) []Measurement {
	idx := t.byChannel[channel]
	out := make([]Measurement, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.measurements[i])
	}
	return out
}

// Channels returns the channels present, in order of first appearance
func (t *ScanTable) Channels() []int {
	out := make([]int, len(t.channels))
	copy(out, t.channels)
	return out
}

// WriteEntries dumps every measurement as one text line
func (t *ScanTable) WriteEntries(w io.Writer) error {
	for i, m := range t.measurements {
		if _, err := fmt.Fprintf(w, "Entry %d Channel %d Pulse %d TComp %d ADC", i, m.Channel, m.Amplitude, m.Timing); err != nil {
			return err
		}
		for _, h := range m.Hits {
			if _, err := fmt.Fprintf(w, " %d", h); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
