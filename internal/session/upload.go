package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/fraud"
	"github.com/frahmantamala/cashback-settlement/internal/verifycsv"
)

const notFoundMessage = "not found in current verification session"

func isCSV(file *UploadFile) bool {
	mediaType, _, err := mime.ParseMediaType(file.ContentType)
	if err == nil && (mediaType == "text/csv" || mediaType == "application/csv") {
		return true
	}
	generic := file.ContentType == "" || mediaType == "application/octet-stream"
	return generic && strings.EqualFold(filepath.Ext(file.Name), ".csv")
}

func (s *Service) readUpload(file *UploadFile) ([]byte, error) {
	if file == nil || file.Content == nil {
		return nil, internal.ErrMissingFile
	}
	if !isCSV(file) {
		return nil, internal.ErrInvalidFileType
	}
	limit := s.cfg.MaxUploadBytes
	if file.Size > limit {
		return nil, internal.ErrFileTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file.Content, limit+1))
	if err != nil {
		return nil, internal.ErrInvalidCSVFormat.WithCause(err)
	}
	if int64(len(data)) > limit {
		return nil, internal.ErrFileTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, internal.ErrMissingFile
	}
	return data, nil
}

func parseError(err error) *internal.AppError {
	var schemaErr *verifycsv.SchemaError
	var dataErr *verifycsv.DataError
	switch {
	case errors.As(err, &schemaErr):
		appErr := internal.ErrInvalidCSVFormat.WithDetails(map[string]interface{}{"missing_columns": schemaErr.Missing})
		appErr.Message = schemaErr.Error()
		return appErr
	case errors.As(err, &dataErr):
		return internal.ErrInvalidCSVData.WithDetails(map[string]interface{}{"errors": dataErr.Errors})
	default:
		return internal.ErrInvalidCSVFormat.WithCause(err)
	}
}

func (s *Service) rejectUpload(ctx context.Context, actor internal.Actor, sess *Session, appErr *internal.AppError) {
	s.metrics.UploadRejected(string(appErr.Code))
	s.logger.Info("verification upload rejected", "session_id", sess.ID, "code", appErr.Code, "reason", appErr.Message)
	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventUploadRejected, "verification results upload rejected").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			With("code", string(appErr.Code)).
			With("message", appErr.Message))
}

type plannedRow struct {
	row  verifycsv.Row
	item *Item
}

// UploadVerificationResults applies a CSV of decisions. Shape problems reject
// the whole file; unknown or already decided transactions are reported per row
// while every other row is applied.
func (s *Service) UploadVerificationResults(ctx context.Context, actor internal.Actor, sessionID string, file *UploadFile) (*UploadResult, error) {
	if actor.IsAdmin() {
		return nil, internal.ErrAdminCannotDecide
	}
	if actor.Type != internal.ActorBusinessUser {
		return nil, internal.ErrUnauthorizedAccess
	}
	content, err := s.readUpload(file)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			s.metrics.UploadRejected(string(appErr.Code))
		}
		return nil, err
	}

	sess, _, err := s.loadSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, stateError("session no longer accepts uploads", sess.Status, OpenStatuses)
	}

	rows, err := verifycsv.Parse(bytes.NewReader(content))
	if err != nil {
		appErr := parseError(err)
		s.rejectUpload(ctx, actor, sess, appErr)
		return nil, appErr
	}

	now := s.now()
	key := fmt.Sprintf("uploads/%s/%s.csv", sess.ID, now.Format("20060102T150405.000Z"))
	if err := s.files.Put(ctx, key, content, csvContentType); err != nil {
		s.logger.Error("failed to archive verification upload", "error", err, "session_id", sess.ID, "key", key)
		return nil, fileStoreError(err)
	}

	itemRows, err := s.repo.ListItems(ctx, sess.ID)
	if err != nil {
		return nil, internal.AsAppError(err)
	}
	byTransaction := make(map[string]*Item, len(itemRows))
	for _, r := range itemRows {
		byTransaction[r.TransactionID] = ItemFromDataModel(r)
	}

	summary := ProcessingSummary{Errors: []RowError{}}
	seen := make(map[string]int, len(rows))
	var planned []plannedRow
	var alreadyVerified []string
	for _, row := range rows {
		summary.TotalRows++
		if first, dup := seen[row.TransactionID]; dup {
			summary.Skipped++
			summary.Errors = append(summary.Errors, RowError{
				Row:           row.Line,
				TransactionID: row.TransactionID,
				Kind:          RowDuplicate,
				Message:       fmt.Sprintf("duplicate of row %d, ignored", first),
			})
			continue
		}
		seen[row.TransactionID] = row.Line

		item, ok := byTransaction[row.TransactionID]
		if !ok {
			summary.Errors = append(summary.Errors, RowError{
				Row:           row.Line,
				TransactionID: row.TransactionID,
				Kind:          RowNotFound,
				Message:       notFoundMessage,
			})
			continue
		}
		if item.IsDecided() || !sess.Status.AcceptsDecisions() {
			summary.Skipped++
			alreadyVerified = append(alreadyVerified, row.TransactionID)
			summary.Errors = append(summary.Errors, RowError{
				Row:           row.Line,
				TransactionID: row.TransactionID,
				Kind:          RowAlreadyVerified,
				Message:       fmt.Sprintf("transaction already verified as %s, row ignored", item.Decision),
			})
			continue
		}
		planned = append(planned, plannedRow{row: row, item: item})
	}

	if len(planned) > 0 {
		if sess, err = s.ensureStarted(ctx, actor, sess); err != nil {
			return nil, err
		}
		decisions := make([]ItemDecision, 0, len(planned))
		for _, p := range planned {
			decisions = append(decisions, ItemDecision{
				ItemID:          p.item.ID,
				SessionID:       sess.ID,
				BatchID:         sess.BatchID,
				Verified:        p.row.Verified,
				Decision:        p.row.Decision,
				RejectionReason: p.row.RejectionReason,
				BusinessNotes:   p.row.BusinessNotes,
				Actor:           actor,
				At:              now,
			})
		}
		applied, err := s.repo.ApplyDecisions(ctx, sess.ID, sess.BatchID, decisions)
		if err != nil {
			s.logger.Error("failed to apply verification upload", "error", err, "session_id", sess.ID)
			return nil, internal.AsAppError(err)
		}
		for i, p := range planned {
			if !applied[i] {
				summary.Skipped++
				summary.Errors = append(summary.Errors, RowError{
					Row:           p.row.Line,
					TransactionID: p.row.TransactionID,
					Kind:          RowConflict,
					Message:       "decided concurrently by another request, row ignored",
				})
				continue
			}
			s.recordUploadedDecision(ctx, actor, sess, p, &summary)
		}
	}

	if len(alreadyVerified) > 0 {
		audit.Emit(ctx, s.audit, s.logger, s.metrics,
			audit.NewEvent(actor, audit.EventAlreadyVerifiedAttempt, "upload referenced already verified items").
				ForBatch(sess.BatchID).
				ForSession(sess.ID).
				With("transaction_ids", alreadyVerified).
				With("source", "upload"))
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics,
		audit.NewEvent(actor, audit.EventResultsUploaded, "verification results uploaded").
			ForBatch(sess.BatchID).
			ForSession(sess.ID).
			With("file_key", key).
			With("total_rows", summary.TotalRows).
			With("processed_rows", summary.ProcessedRows).
			With("approved", summary.Approved).
			With("rejected", summary.Rejected).
			With("skipped", summary.Skipped).
			With("errors", len(summary.Errors)).
			With("fraud_warnings", len(summary.FraudWarnings)))

	s.metrics.UploadRow("applied", summary.ProcessedRows)
	s.metrics.UploadRow("skipped", summary.Skipped)
	s.metrics.UploadRow("not_found", summary.TotalRows-summary.ProcessedRows-summary.Skipped)

	latest, err := s.autoSubmit(ctx, actor, sess.ID)
	if err != nil {
		return nil, err
	}

	status := UploadSuccess
	if len(summary.Errors) > 0 {
		status = UploadPartialSuccess
	}
	s.logger.Info("verification upload processed",
		"session_id", sess.ID,
		"status", status,
		"total_rows", summary.TotalRows,
		"processed_rows", summary.ProcessedRows,
		"session_status", latest.Status)

	return &UploadResult{Status: status, Session: latest, Summary: summary}, nil
}

func (s *Service) recordUploadedDecision(ctx context.Context, actor internal.Actor, sess *Session, p plannedRow, summary *ProcessingSummary) {
	summary.ProcessedRows++
	if p.row.Decision == verifycsv.DecisionApproved {
		summary.Approved++
	} else {
		summary.Rejected++
	}

	event := audit.NewEvent(actor, audit.EventItemVerified, "verification decision recorded").
		ForBatch(sess.BatchID).
		ForSession(sess.ID).
		ForTransaction(p.row.TransactionID).
		With("decision", string(p.row.Decision)).
		With("source", "upload").
		With("row", p.row.Line)
	if p.row.Decision == verifycsv.DecisionRejected {
		event = event.With("rejection_reason", p.row.RejectionReason)
	}

	if p.row.Decision == verifycsv.DecisionApproved && p.item.FraudRecommendation == string(fraud.RecommendReject) {
		score := 0
		if p.item.FraudRiskScore != nil {
			score = *p.item.FraudRiskScore
		}
		summary.FraudWarnings = append(summary.FraudWarnings, FraudWarning{
			Row:            p.row.Line,
			TransactionID:  p.row.TransactionID,
			RiskScore:      score,
			Recommendation: fraud.RecommendReject,
			Message:        "approved against a reject recommendation",
		})
		event = event.With("fraud_recommendation", p.item.FraudRecommendation).With("fraud_risk_score", score)
	}
	audit.Emit(ctx, s.audit, s.logger, s.metrics, event)
}
