package search

import (
	"context"
	"log"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// Service is the facade that tries Meilisearch first and falls back to a
// ledger scan.
type Service struct {
	meili *Meili
	scan  *LedgerScan
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, scan *LedgerScan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise falls back to the ledger.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to ledger scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: ledger scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSubmission indexes a submission (fire-and-forget to Meilisearch).
func (s *Service) IndexSubmission(clinic string, sub intake.Submission) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := Record(clinic, sub)
	go func() {
		if err := s.meili.IndexSubmission(rec); err != nil {
			log.Printf("search: index submission %s: %v", rec.ID, err)
		}
	}()
}

// DeleteSubmission removes a submission from the search index (fire-and-forget).
func (s *Service) DeleteSubmission(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSubmission(id); err != nil {
			log.Printf("search: delete submission %s: %v", id, err)
		}
	}()
}

// ReindexClinic pushes the clinic's whole ledger into Meilisearch.
func (s *Service) ReindexClinic(ctx context.Context, clinic string) {
	if s.meili == nil || !s.meili.Healthy() || s.scan == nil {
		return
	}
	subs, err := s.scan.ledger.List(ctx, clinic)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	recs := make([]SubmissionRecord, 0, len(subs))
	for _, sub := range subs {
		recs = append(recs, Record(clinic, sub))
	}
	if err := s.meili.IndexSubmissions(recs); err != nil {
		log.Printf("search: reindex submissions: %v", err)
	}
}

// Healthy reports whether the Meilisearch backend is in use.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Close stops background work.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
