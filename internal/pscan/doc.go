// Package pscan reads pulse-scan text dumps into scan tables.
//
// A scan file starts with a header line declaring the comparator layout,
//
//	# ... DISC_LIST:[0,5,10,30] ...
//
// followed by one line per injected amplitude and channel,
//
//	vp 40 ch 17: 3 0 0 100 88
//
// whose values map positionally onto the DISC_LIST comparators, with one
// trailing timing-comparator value. Acquisition time, ASIC id, register
// settings and pulse count are decoded from the file name.
//
// Nothing in a malformed file aborts ingestion: problems are logged and the
// offending line is skipped or the affected field keeps its default.
package pscan
