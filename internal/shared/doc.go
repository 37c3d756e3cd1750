// Package shared holds code used by more than one package of the module.
//
// The testutil subpackage provides a capturing slog handler for log
// assertions and builders for pulse-scan test files: acquisition file names,
// DISC_LIST headers, data lines and noise-free erfc amplitude sweeps.
package shared
