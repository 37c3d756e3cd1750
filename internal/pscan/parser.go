package pscan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"smxpscan/internal/config"
	apperrors "smxpscan/internal/errors"
	"smxpscan/internal/infrastructure"
	"smxpscan/pkg/contracts/domain"
)

// Report summarizes one ingestion pass
type Report struct {
	FileName    string `json:"file_name"`
	HeaderFound bool   `json:"header_found"`
	// DataLines counts non-blank lines after the header
	DataLines int `json:"data_lines"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	// Short counts accepted lines that lacked trailing values
	Short int `json:"short"`
	// RejectedLines holds 1-based line numbers of rejected lines
	RejectedLines []int `json:"rejected_lines,omitempty"`
	// Warnings holds header and file name problems
	Warnings []string `json:"warnings,omitempty"`
}

// Parser reads pulse-scan files into scan tables
type Parser struct {
	cfg     config.ScanConfig
	loc     *time.Location
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics
}

// Option configures a Parser
type Option func(*Parser)

// WithMetrics records ingestion counters on m
func WithMetrics(m *infrastructure.PipelineMetrics) Option {
	return func(p *Parser) { p.metrics = m }
}

// NewParser creates a parser. A nil logger falls back to the global logger.
func NewParser(cfg config.ScanConfig, logger *slog.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = config.Default().Scan.MaxLineBytes
	}
	p := &Parser{
		cfg:    cfg,
		loc:    cfg.TimeLocation(),
		logger: infrastructure.WithComponent(logger, "pscan"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseHeaderLine parses the header line of file and logs every problem found
func (p *Parser) ParseHeaderLine(ctx context.Context, file, line string) (Header, []error) {
	h, warnings := ParseHeader(line)
	for _, w := range warnings {
		p.logger.WarnContext(ctx, "header problem", "file", file, "reason", w.Error())
	}
	return h, warnings
}

func (p *Parser) decodeName(ctx context.Context, path string) (domain.ScanMetadata, error) {
	meta, err := ParseFileName(path, p.loc, p.cfg.DefaultPulseCount)
	if err != nil {
		msg := "file name problem"
		if apperrors.IsType(err, apperrors.ErrTypeInvalidTimestamp) {
			msg = "invalid acquisition timestamp"
		}
		p.logger.WarnContext(ctx, msg, "file", meta.FileName, "reason", err.Error())
	}
	return meta, err
}

// ReadFile reads the scan file at path
func (p *Parser) ReadFile(ctx context.Context, path string) (*domain.ScanTable, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, apperrors.NewIOError("failed to open scan file", err).WithContext("path", path)
	}
	defer f.Close()

	return p.Read(ctx, f, path)
}

// Read parses a whole scan from r. name is the file path the metadata is
// decoded from. Malformed and over-long lines are logged and skipped; only
// read failures return an error.
func (p *Parser) Read(ctx context.Context, r io.Reader, name string) (*domain.ScanTable, *Report, error) {
	meta, err := p.decodeName(ctx, name)
	report := &Report{FileName: meta.FileName}
	if err != nil {
		report.Warnings = append(report.Warnings, err.Error())
	}

	br := bufio.NewReaderSize(r, min(4096, p.cfg.MaxLineBytes))

	var (
		header Header
		lines  *LineParser
		table  *domain.ScanTable
		lineNo int
	)

	for {
		raw, oversize, err := readLine(br, p.cfg.MaxLineBytes)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, report, apperrors.NewIOError("failed to read scan file", err).
				WithContext("file", meta.FileName).WithContext("line", lineNo+1)
		}
		lineNo++
		text := string(raw)

		if lineNo == 1 {
			if oversize {
				w := fmt.Sprintf("header line exceeds %d bytes", p.cfg.MaxLineBytes)
				p.logger.WarnContext(ctx, "header problem", "file", meta.FileName, "reason", w)
				report.Warnings = append(report.Warnings, w)
			} else {
				var warnings []error
				header, warnings = p.ParseHeaderLine(ctx, meta.FileName, text)
				for _, w := range warnings {
					report.Warnings = append(report.Warnings, w.Error())
				}
			}
			report.HeaderFound = header.Found
			lines = NewLineParser(header)
			table = domain.NewScanTable(meta, header.DiscList)
			continue
		}

		if oversize {
			report.DataLines++
			report.Rejected++
			report.RejectedLines = append(report.RejectedLines, lineNo)
			p.logger.WarnContext(ctx, "data line rejected", "file", meta.FileName, "line", lineNo,
				"reason", fmt.Sprintf("line exceeds %d bytes", p.cfg.MaxLineBytes))
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}
		report.DataLines++

		if !header.Found {
			report.Rejected++
			report.RejectedLines = append(report.RejectedLines, lineNo)
			p.logger.WarnContext(ctx, "data line unmatched", "file", meta.FileName, "line", lineNo,
				"reason", "no DISC_LIST in header")
			continue
		}

		m, missing, err := lines.Parse(text)
		if err != nil {
			report.Rejected++
			report.RejectedLines = append(report.RejectedLines, lineNo)
			p.logger.WarnContext(ctx, "data line rejected", "file", meta.FileName, "line", lineNo,
				"reason", err.Error())
			continue
		}
		if missing > 0 {
			report.Short++
			p.logger.WarnContext(ctx, "data line short", "file", meta.FileName, "line", lineNo,
				"missing", missing)
		}
		table.Append(m)
		report.Accepted++
	}

	if table == nil {
		p.logger.WarnContext(ctx, "scan file is empty", "file", meta.FileName)
		table = domain.NewScanTable(meta, nil)
	}

	p.metrics.RecordScan(ctx, report.Accepted, report.Rejected)
	p.logger.InfoContext(ctx, "scan file loaded",
		"file", meta.FileName,
		"asic_id", meta.AsicID,
		"read_time", meta.FormatReadTime(),
		"pulses", meta.PulseCount,
		"comparators", len(header.DiscList),
		"accepted", report.Accepted,
		"rejected", report.Rejected)

	return table, report, nil
}

// readLine returns the next line without its LF or CRLF terminator. A line
// longer than limit bytes is consumed to its end and returned empty with
// oversize set. io.EOF is returned only once no bytes remain.
func readLine(br *bufio.Reader, limit int) (line []byte, oversize bool, err error) {
	var seen bool
	for {
		chunk, err := br.ReadSlice('\n')
		seen = seen || len(chunk) > 0
		if !oversize {
			line = append(line, chunk...)
			// two bytes of slack for the terminator
			if len(line) > limit+2 {
				oversize, line = true, nil
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && seen:
			err = nil
		case err != nil:
			return nil, false, err
		}

		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > limit {
			oversize, line = true, nil
		}
		return line, oversize, nil
	}
}
