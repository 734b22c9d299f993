// Package coverage parses coverage artifacts produced by the script
// phase, gates runs on a minimum threshold, and uploads reports.
package coverage

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/cirunner/internal/config"
)

// Report summarises a coverage artifact.
type Report struct {
	Covered int `json:"covered"`
	Total   int `json:"total"`
}

// Percent returns the covered percentage; an empty report is 0.
func (r Report) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Covered) / float64(r.Total) * 100
}

// Parse reads the artifact at path in the given format.
func Parse(path, format string) (Report, error) {
	switch format {
	case config.CoverageFormatGoProfile:
		return ParseProfile(path)
	case config.CoverageFormatLCOV:
		return ParseLCOV(path)
	default:
		return Report{}, fmt.Errorf("unsupported coverage format: %s", format)
	}
}

// ParseProfile reads a Go cover profile (as written by -coverprofile).
// Each block line is "file:start,end numStatements hitCount".
func ParseProfile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open coverage profile: %w", err)
	}
	defer f.Close()

	var report Report
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if !strings.HasPrefix(line, "mode:") {
				return Report{}, fmt.Errorf("not a Go cover profile: missing mode header")
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return Report{}, fmt.Errorf("malformed profile line: %q", line)
		}
		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return Report{}, fmt.Errorf("malformed statement count in line: %q", line)
		}
		hits, err := strconv.Atoi(fields[2])
		if err != nil {
			return Report{}, fmt.Errorf("malformed hit count in line: %q", line)
		}

		report.Total += statements
		if hits > 0 {
			report.Covered += statements
		}
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("failed to read coverage profile: %w", err)
	}
	if first {
		return Report{}, fmt.Errorf("empty coverage profile")
	}
	return report, nil
}

// ParseLCOV reads an LCOV tracefile, summing LF (lines found) and LH
// (lines hit) records.
func ParseLCOV(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open lcov file: %w", err)
	}
	defer f.Close()

	var report Report
	sawRecord := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "LF:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "LF:"))
			if err != nil {
				return Report{}, fmt.Errorf("malformed LF record: %q", line)
			}
			report.Total += n
			sawRecord = true
		case strings.HasPrefix(line, "LH:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "LH:"))
			if err != nil {
				return Report{}, fmt.Errorf("malformed LH record: %q", line)
			}
			report.Covered += n
			sawRecord = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("failed to read lcov file: %w", err)
	}
	if !sawRecord {
		return Report{}, fmt.Errorf("no coverage records found in %s", path)
	}
	return report, nil
}

// Gate returns an error when the report is below the minimum percentage.
// A zero minimum accepts everything.
func Gate(report Report, minPercent float64) error {
	if minPercent <= 0 {
		return nil
	}
	if report.Percent() < minPercent {
		return fmt.Errorf("coverage %.1f%% is below the required %.1f%%", report.Percent(), minPercent)
	}
	return nil
}
