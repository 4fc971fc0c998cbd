// Package report generates compliance reports from persisted audit history.
// Reports are derived from the run-log and override stores only; live request
// state is never a report input.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/audit"
	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/override"
)

// Report types the generator knows how to build.
const (
	TypeCheckActivity   = "check_activity"
	TypeOverrideSummary = "override_summary"
	TypeDegradation     = "degradation"
)

// Generator builds reports from the audit and override stores and writes them
// to the configured output directory.
type Generator struct {
	log       *logrus.Logger
	runs      audit.Store
	overrides override.Store
	outputDir string
}

// NewGenerator creates a report generator writing into outputDir.
func NewGenerator(logger *logrus.Logger, runs audit.Store, overrides override.Store, outputDir string) *Generator {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &Generator{log: logger, runs: runs, overrides: overrides, outputDir: outputDir}
}

// checkActivityReport summarizes check volume and outcomes in a window.
type checkActivityReport struct {
	From             time.Time       `json:"from"`
	To               time.Time       `json:"to"`
	TotalChecks      int             `json:"total_checks"`
	CacheHits        int             `json:"cache_hits"`
	DegradedChecks   int             `json:"degraded_checks"`
	SeverityCounts   map[string]int  `json:"severity_counts"`
	PatientsByVolume map[string]int  `json:"checks_by_patient"`
	Entries          []domain.RunLog `json:"entries,omitempty"`
}

// overrideSummaryReport summarizes the override history in a window.
type overrideSummaryReport struct {
	From           time.Time               `json:"from"`
	To             time.Time               `json:"to"`
	TotalOverrides int                     `json:"total_overrides"`
	ByReason       map[string]int          `json:"by_reason"`
	BySeverity     map[string]int          `json:"by_severity"`
	ByState        map[string]int          `json:"by_state"`
	Records        []domain.OverrideRecord `json:"records,omitempty"`
}

// degradationReport lists checks that ran with reduced coverage.
type degradationReport struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Degraded []domain.RunLog `json:"degraded_checks"`
}

// Generate builds the requested report and returns its location and size.
func (g *Generator) Generate(ctx context.Context, req *domain.ReportRequest) (*domain.ReportResult, error) {
	if req.To.IsZero() {
		req.To = time.Now().UTC()
	}
	if !req.From.Before(req.To) {
		return nil, domain.NewValidationError("from", "report window is empty", req.From)
	}

	var payload any
	var count int
	var err error
	switch req.ReportType {
	case TypeCheckActivity:
		payload, count, err = g.checkActivity(ctx, req)
	case TypeOverrideSummary:
		payload, count, err = g.overrideSummary(ctx, req)
	case TypeDegradation:
		payload, count, err = g.degradation(ctx, req)
	default:
		return nil, domain.NewValidationError("report_type", "unknown report type", req.ReportType)
	}
	if err != nil {
		return nil, err
	}

	path, err := g.write(req.ReportType, payload)
	if err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"report_type": req.ReportType,
		"records":     count,
		"path":        path,
	}).Info("Report generated")

	return &domain.ReportResult{
		Status:      "completed",
		DownloadURL: path,
		RecordCount: count,
	}, nil
}

func (g *Generator) checkActivity(ctx context.Context, req *domain.ReportRequest) (any, int, error) {
	entries, err := g.runs.ListRunLogs(ctx, req.From, req.To)
	if err != nil {
		return nil, 0, fmt.Errorf("loading run logs: %w", err)
	}
	entries = filterRunLogs(entries, req.Filters)

	rep := checkActivityReport{
		From:             req.From,
		To:               req.To,
		TotalChecks:      len(entries),
		SeverityCounts:   make(map[string]int),
		PatientsByVolume: make(map[string]int),
	}
	for i := range entries {
		e := &entries[i]
		if e.CacheHit {
			rep.CacheHits++
		}
		if e.Degraded {
			rep.DegradedChecks++
		}
		rep.SeverityCounts[e.MaxSeverity.String()]++
		rep.PatientsByVolume[e.PatientID]++
	}
	if req.Format == "full" {
		rep.Entries = entries
	}
	return rep, len(entries), nil
}

func (g *Generator) overrideSummary(ctx context.Context, req *domain.ReportRequest) (any, int, error) {
	records, err := g.overrides.List(ctx, req.From, req.To)
	if err != nil {
		return nil, 0, fmt.Errorf("loading overrides: %w", err)
	}

	rep := overrideSummaryReport{
		From:           req.From,
		To:             req.To,
		TotalOverrides: len(records),
		ByReason:       make(map[string]int),
		BySeverity:     make(map[string]int),
		ByState:        make(map[string]int),
	}
	for i := range records {
		r := &records[i]
		rep.ByReason[r.ReasonCode.String()]++
		rep.BySeverity[r.Severity.String()]++
		rep.ByState[r.State.String()]++
	}
	if req.Format == "full" {
		rep.Records = records
	}
	return rep, len(records), nil
}

func (g *Generator) degradation(ctx context.Context, req *domain.ReportRequest) (any, int, error) {
	entries, err := g.runs.ListRunLogs(ctx, req.From, req.To)
	if err != nil {
		return nil, 0, fmt.Errorf("loading run logs: %w", err)
	}
	rep := degradationReport{From: req.From, To: req.To}
	for i := range entries {
		if entries[i].Degraded {
			rep.Degraded = append(rep.Degraded, entries[i])
		}
	}
	return rep, len(rep.Degraded), nil
}

func (g *Generator) write(reportType string, payload any) (string, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", reportType, uuid.NewString())
	path := filepath.Join(g.outputDir, name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	return path, nil
}

func filterRunLogs(entries []domain.RunLog, filters map[string]string) []domain.RunLog {
	patientID := filters["patient_id"]
	if patientID == "" {
		return entries
	}
	var out []domain.RunLog
	for i := range entries {
		if entries[i].PatientID == patientID {
			out = append(out, entries[i])
		}
	}
	return out
}
