// Package results implements the results adapters of spec §4.8: reading
// and summarizing specific artifact files produced by the featurecounts and
// deseq2 stages for display in the UI. These are read-only projections over
// files the pipeline's own tools wrote; this package never writes to them.
package results

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stevenzev/expressdiff/internal/apperrors"
)

// FeatureCountsSummary is the per-sample table parsed from
// featurecounts/counts.txt.summary (spec §4.8).
type FeatureCountsSummary struct {
	Samples []string          `json:"samples"`
	Metrics map[string][]int64 `json:"metrics"` // metric name -> one count per sample, same order as Samples
}

// FeatureCountsSummaryFor parses <run_dir>/featurecounts/counts.txt.summary, a
// tab-separated file with a header row "Status<TAB>sample1<TAB>sample2..."
// and one row per metric. 404 (apperrors.NotFound) if the file is absent.
func FeatureCountsSummaryFor(runDir string) (*FeatureCountsSummary, error) {
	path := filepath.Join(runDir, "featurecounts", "counts.txt.summary")
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NotFound("results", path, "featurecounts summary not found")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, apperrors.Config(path, "featurecounts summary is empty", nil)
	}
	header := strings.Split(scanner.Text(), "\t")
	if len(header) < 2 {
		return nil, apperrors.Config(path, "featurecounts summary header malformed", nil)
	}
	samples := make([]string, len(header)-1)
	for i, h := range header[1:] {
		samples[i] = filepath.Base(strings.TrimSpace(h))
	}

	metrics := map[string][]int64{}
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
			continue
		}
		name := strings.TrimSpace(fields[0])
		counts := make([]int64, len(samples))
		for i := 1; i < len(fields) && i-1 < len(samples); i++ {
			v, err := strconv.ParseInt(strings.TrimSpace(fields[i]), 10, 64)
			if err != nil {
				v = 0
			}
			counts[i-1] = v
		}
		metrics[name] = counts
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Config(path, "failed reading featurecounts summary", err)
	}

	return &FeatureCountsSummary{Samples: samples, Metrics: metrics}, nil
}

// DESeq2Results is the combined result of spec §4.8's deseq2_results: the
// key/value summary plus the significant-DEGs table, plus which of the
// fixed downloadable file_types actually exist on disk.
type DESeq2Results struct {
	Summary            map[string]string `json:"summary"`
	SignificantDEGs     []map[string]string `json:"significant_degs"`
	AvailableDownloads []string          `json:"available_downloads"`
}

// downloadFiles maps the fixed file_type set of spec §4.8 to their on-disk
// names under <run_dir>/deseq2/.
var downloadFiles = map[string]string{
	"summary":         "summary.txt",
	"significant_degs": "significant_degs.csv",
	"full_results":    "full_results.csv",
	"top_degs":        "top_degs.csv",
	"counts_matrix":   "counts_matrix.csv",
}

// DownloadFileTypes returns the fixed, ordered set of recognized file_type
// values (spec §4.8).
func DownloadFileTypes() []string {
	return []string{"summary", "significant_degs", "full_results", "top_degs", "counts_matrix"}
}

// DESeq2ResultsFor parses deseq2/summary.txt and deseq2/significant_degs.csv
// under runDir. 404 if the deseq2 directory or both primary files are
// absent.
func DESeq2ResultsFor(runDir string) (*DESeq2Results, error) {
	dir := filepath.Join(runDir, "deseq2")
	summaryPath := filepath.Join(dir, "summary.txt")
	degsPath := filepath.Join(dir, "significant_degs.csv")

	summary, summaryErr := parseSummary(summaryPath)
	degs, degsErr := parseSignificantDEGs(degsPath)
	if summaryErr != nil && degsErr != nil {
		return nil, apperrors.NotFound("results", dir, "deseq2 results not found")
	}

	var available []string
	for _, ft := range DownloadFileTypes() {
		if _, err := os.Stat(filepath.Join(dir, downloadFiles[ft])); err == nil {
			available = append(available, ft)
		}
	}

	return &DESeq2Results{Summary: summary, SignificantDEGs: degs, AvailableDownloads: available}, nil
}

// DownloadPath resolves fileType to an absolute path under runDir/deseq2,
// or an error if fileType is not one of the fixed set or the file is
// absent.
func DownloadPath(runDir, fileType string) (string, error) {
	name, ok := downloadFiles[fileType]
	if !ok {
		return "", apperrors.Validation("deseq2-download", []string{fmt.Sprintf("unknown file_type %q", fileType)}, nil)
	}
	path := filepath.Join(runDir, "deseq2", name)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.NotFound("results", path, "requested deseq2 file not found")
	}
	return path, nil
}

func parseSummary(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sep := ":"
		if !strings.Contains(line, sep) {
			sep = "\t"
		}
		parts := strings.SplitN(line, sep, 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

// parseSignificantDEGs parses a CSV into rows of column->value, rounding
// any numeric value to 4 decimal places for display (spec §4.8 "numeric
// rounding to 4 decimals for display").
func parseSignificantDEGs(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i >= len(record) {
				continue
			}
			row[col] = roundForDisplay(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func roundForDisplay(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}
