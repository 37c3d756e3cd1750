package contracts

import (
	"fmt"
	"log/slog"
	"runtime"
)

const (
	// Version is the release of the ingestion and fit library
	Version = "0.3.0"

	// DataFormatVersion is the version of the exported scan and fit structures
	DataFormatVersion = "v1"
)

// Set with -ldflags "-X smxpscan/pkg/contracts.GitCommit=..."
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// BuildInfo identifies the running build in logs and telemetry resources
type BuildInfo struct {
	Version    string `json:"version"`
	DataFormat string `json:"data_format"`
	BuildTime  string `json:"build_time"`
	GitCommit  string `json:"git_commit"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// CurrentBuild returns the build information of this binary
func CurrentBuild() BuildInfo {
	return BuildInfo{
		Version:    Version,
		DataFormat: DataFormatVersion,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the build as "smxpscan 0.3.0 (data v1, commit abc123)"
func (b BuildInfo) String() string {
	return fmt.Sprintf("smxpscan %s (data %s, commit %s)", b.Version, b.DataFormat, b.GitCommit)
}

// LogValue implements slog.LogValuer
func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("data_format", b.DataFormat),
		slog.String("commit", b.GitCommit),
		slog.String("go", b.GoVersion),
		slog.String("platform", b.Platform),
	)
}
