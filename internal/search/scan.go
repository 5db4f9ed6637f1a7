package search

import (
	"context"
	"sort"
	"strings"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// SubmissionLister is the part of the ledger the fallback needs.
type SubmissionLister interface {
	List(ctx context.Context, clinic string) ([]intake.Submission, error)
}

// LedgerScan answers queries by reading the clinic's whole ledger and
// matching case-insensitive substrings. It needs no index and always agrees
// with the store.
type LedgerScan struct {
	ledger SubmissionLister
}

func NewLedgerScan(ledger SubmissionLister) *LedgerScan {
	return &LedgerScan{ledger: ledger}
}

func (s *LedgerScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	subs, err := s.ledger.List(ctx, q.ClinicID)
	if err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matched []Result
	for _, sub := range subs {
		rec := Record(q.ClinicID, sub)
		snippet, ok := matchRecord(rec, needle)
		if !ok {
			continue
		}
		matched = append(matched, Result{
			ID:          rec.ID,
			ClinicID:    rec.ClinicID,
			PatientName: rec.PatientName,
			FormName:    rec.FormName,
			Timestamp:   rec.Timestamp,
			Snippet:     snippet,
		})
	}

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	start := min(max(q.Offset, 0), total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func matchRecord(rec SubmissionRecord, needle string) (string, bool) {
	if needle == "" {
		return "", true
	}
	if strings.Contains(strings.ToLower(rec.PatientName), needle) || strings.Contains(strings.ToLower(rec.FormName), needle) {
		return "", true
	}
	for _, line := range strings.Split(rec.Answers, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			return line, true
		}
	}
	return "", false
}

// Record flattens a submission into its index form. Answers follow the
// form's field order when known.
func Record(clinic string, sub intake.Submission) SubmissionRecord {
	labels := sub.Fields
	if len(labels) == 0 {
		for label := range sub.Responses {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	}
	lines := make([]string, 0, len(labels))
	for _, label := range labels {
		if value, ok := sub.Responses[label]; ok {
			lines = append(lines, label+": "+value)
		}
	}
	return SubmissionRecord{
		ID:          sub.ID,
		ClinicID:    clinic,
		PatientName: sub.PatientName,
		FormName:    sub.FormName,
		Timestamp:   sub.Timestamp,
		Answers:     strings.Join(lines, "\n"),
	}
}
