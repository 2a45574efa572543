package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/csvparser"
	"github.com/ginjaninja78/class-payment-reconciler/internal/repository"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

// Kind is the ledger a CSV export feeds.
type Kind string

const (
	KindAttendance Kind = "attendance"
	KindPayments   Kind = "payments"
)

// ParseKind accepts "attendance" or "payments" (and "payment").
func ParseKind(s string) (Kind, error) {
	switch s {
	case "attendance":
		return KindAttendance, nil
	case "payments", "payment":
		return KindPayments, nil
	default:
		return "", fmt.Errorf("unknown ledger %q (want attendance or payments)", s)
	}
}

// Result is the outcome of importing one file.
type Result struct {
	File       string
	Kind       Kind
	Rows       int
	Added      int
	Rejected   int
	Issues     []utils.IssueLogEntry
	ArchivedTo string
	Duration   time.Duration
	Err        error
}

// Importer appends CSV exports to the attendance and payments sheets.
type Importer struct {
	repos  *repository.Set
	cfg    *config.Config
	logger logrus.FieldLogger

	attendance *Mapper
	payments   *Mapper
}

// NewImporter compiles the configured column mappings.
func NewImporter(repos *repository.Set, cfg *config.Config, logger logrus.FieldLogger) (*Importer, error) {
	att, err := NewMapper(cfg.Ingest.AttendanceColumns)
	if err != nil {
		return nil, fmt.Errorf("attendance_columns: %w", err)
	}
	pay, err := NewMapper(cfg.Ingest.PaymentColumns)
	if err != nil {
		return nil, fmt.Errorf("payment_columns: %w", err)
	}
	return &Importer{repos: repos, cfg: cfg, logger: logger, attendance: att, payments: pay}, nil
}

// ImportFile parses one export and appends its rows to the matching ledger.
// Rows identical to ones already in the sheet are skipped, so re-importing
// the same export is harmless.
//
// PROCESSING STEPS:
//  1. Parse the CSV
//  2. Map each row onto canonical headers
//  3. Convert to ledger records; payment rows without a usable date or
//     amount are rejected and logged
//  4. Append, skipping duplicates
func (im *Importer) ImportFile(ctx context.Context, path string, kind Kind) *Result {
	start := time.Now()
	result := &Result{File: path, Kind: kind}
	log := im.logger.WithFields(logrus.Fields{"file": filepath.Base(path), "ledger": kind})

	data, err := csvparser.ParseFile(path, im.cfg.Ingest.CSV)
	if err != nil {
		result.Err = err
		return result
	}
	result.Rows = data.RowCount()
	log.WithField("rows", result.Rows).Debug("parsed export")

	mapper := im.attendance
	if kind == KindPayments {
		mapper = im.payments
	}

	var attendance []types.AttendanceRecord
	var payments []types.PaymentRecord
	for i, raw := range data.Rows {
		row, err := mapper.MapRow(raw)
		if err != nil {
			result.reject(i, err.Error())
			continue
		}

		switch kind {
		case KindAttendance:
			rec := repository.AttendanceFromRow(row)
			if rec.Customer == "" {
				result.reject(i, "missing customer")
				continue
			}
			attendance = append(attendance, rec)
		case KindPayments:
			rec := repository.PaymentFromRow(row)
			if rec.Invalid != "" {
				result.reject(i, rec.Invalid)
				continue
			}
			payments = append(payments, rec)
		}
	}

	switch kind {
	case KindAttendance:
		result.Added, err = im.repos.Attendance.Append(ctx, attendance)
	case KindPayments:
		result.Added, err = im.repos.Payments.Append(ctx, payments)
	}
	if err != nil {
		result.Err = err
		return result
	}

	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"added":    result.Added,
		"rejected": result.Rejected,
	}).Info("imported export")
	return result
}

// ImportDir imports every export in the input directory whose name matches
// the attendance or payments pattern. Successfully imported files are moved
// to the archive directory when archive is true. A failing file does not stop
// the others.
func (im *Importer) ImportDir(ctx context.Context, files *utils.FileManager, archive bool) ([]*Result, error) {
	var results []*Result
	for _, job := range []struct {
		kind    Kind
		pattern string
	}{
		{KindAttendance, im.cfg.Ingest.AttendancePattern},
		{KindPayments, im.cfg.Ingest.PaymentsPattern},
	} {
		paths, err := files.DiscoverInputFiles(job.pattern)
		if err != nil {
			return results, err
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			res := im.ImportFile(ctx, path, job.kind)
			if res.Err == nil && archive {
				if res.ArchivedTo, err = files.ArchiveInputFile(path); err != nil {
					res.Err = fmt.Errorf("imported but not archived: %w", err)
				}
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func (r *Result) reject(index int, msg string) {
	r.Rejected++
	r.Issues = append(r.Issues, utils.IssueLogEntry{
		Timestamp: time.Now(),
		Source:    filepath.Base(r.File),
		Row:       index + 1,
		Severity:  "warning",
		Message:   msg,
	})
}
