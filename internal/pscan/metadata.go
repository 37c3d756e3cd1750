package pscan

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	apperrors "smxpscan/internal/errors"
	"smxpscan/pkg/contracts/domain"
)

var fileNamePattern = regexp.MustCompile(`pscan_(\d{6}_\d{4})_(XA-[\d\-]+)_.*_SET_(\d+)_(\d+)_(\d+)_(\d+)_.*_NP_(\d+)_.*\.txt`)

// ParseFileName extracts scan metadata from the path of a scan file.
//
// Parameters:
//   - path: file path; only the base name is matched
//   - loc: time zone of the embedded timestamp
//   - defaultPulses: pulse count used when the name carries none
//
// Returns the metadata and, when something could not be decoded, a
// PARSE_WARNING or INVALID_TIMESTAMP error. The metadata is usable either way:
// an unmatched name leaves every field at its default, an undecodable
// timestamp leaves ReadTime zero and keeps the other fields.
func ParseFileName(path string, loc *time.Location, defaultPulses int) (domain.ScanMetadata, error) {
	meta := domain.DefaultScanMetadata()
	if defaultPulses > 0 {
		meta.PulseCount = defaultPulses
	}
	meta.FileName = filepath.Base(path)
	meta.Dir = filepath.Dir(path)

	m := fileNamePattern.FindStringSubmatch(meta.FileName)
	if m == nil {
		return meta, apperrors.NewParseWarning("file name does not match the scan naming scheme", nil).
			WithContext("file", meta.FileName)
	}

	var nums [5]int
	for i := range nums {
		v, err := strconv.Atoi(m[3+i])
		if err != nil {
			return meta, apperrors.NewParseWarning("file name setting out of range", err).
				WithContext("file", meta.FileName)
		}
		nums[i] = v
	}

	meta.AsicID = m[2]
	meta.Settings.VrefP = nums[0]
	meta.Settings.VrefN = nums[1]
	meta.Settings.VrefT = nums[2]
	meta.Settings.Thr2Glb = nums[3]

	var warning error
	if nums[4] > 0 {
		meta.PulseCount = nums[4]
	} else {
		warning = apperrors.NewParseWarning("file name pulse count is zero, default kept", nil).
			WithContext("file", meta.FileName)
	}

	readTime, err := DecodeTimestamp(m[1], loc)
	if err != nil {
		return meta, err
	}
	meta.ReadTime = readTime

	return meta, warning
}

// DecodeTimestamp converts a YYMMDD_HHMM token to an absolute time in loc.
// Years are offsets from 2000 and seconds are zero. A wall time skipped by a
// daylight saving transition is accepted and resolved as time.Date does.
func DecodeTimestamp(token string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(token) != 11 {
		return time.Time{}, apperrors.NewInvalidTimestamp(token, fmt.Errorf("want 11 characters, got %d", len(token)))
	}

	field := func(s string) (int, error) { return strconv.Atoi(s) }
	yy, err1 := field(token[0:2])
	mo, err2 := field(token[2:4])
	dd, err3 := field(token[4:6])
	hh, err4 := field(token[7:9])
	mi, err5 := field(token[9:11])
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return time.Time{}, apperrors.NewInvalidTimestamp(token, err)
		}
	}

	// time.Date normalizes overflow, so a round trip detects impossible fields.
	// The check runs in UTC so a wall time inside a DST gap of loc is kept.
	u := time.Date(2000+yy, time.Month(mo), dd, hh, mi, 0, 0, time.UTC)
	if u.Year() != 2000+yy || int(u.Month()) != mo || u.Day() != dd || u.Hour() != hh || u.Minute() != mi {
		return time.Time{}, apperrors.NewInvalidTimestamp(token, fmt.Errorf("not a calendar time"))
	}
	return time.Date(2000+yy, time.Month(mo), dd, hh, mi, 0, 0, loc), nil
}
