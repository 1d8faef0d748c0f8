package insights

import (
	"fmt"
	"log"

	"pminsight/internal/domain"
	"pminsight/internal/normalize"
	"pminsight/internal/storage/sqlite"
	"pminsight/internal/vertical"
)

// Classify resolves one ticket's vertical on demand. An active override
// is returned as-is with full confidence; otherwise the classifier runs
// and its result is cached on the ticket row.
func (s *Service) Classify(ticketID int64) (domain.Prediction, error) {
	t, err := sqlite.GetTicketByID(s.db, ticketID)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}

	o, ok, err := sqlite.GetActiveOverride(s.db, ticketID)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("load override for ticket %d: %w", ticketID, err)
	}
	if ok {
		p := domain.Prediction{
			TicketID:   t.ID,
			Vertical:   o.Vertical,
			Confidence: vertical.OverrideConfidence,
			Basis:      vertical.BasisOverride,
		}
		if r, found := s.classifier.Rule(o.Vertical); found {
			p.Name = r.Name
		}
		return p, nil
	}

	p := s.classifier.Classify(t, normalize.Text(t.Title, t.Body))
	if p.Basis != "" {
		if err := sqlite.SavePrediction(s.db, t.ID, p); err != nil {
			log.Printf("Prediction cache write failed for ticket %d: %v", t.ID, err)
		}
	}
	return p, nil
}

// Reclassify recomputes predictions for every ticket matching f and
// persists the ones that changed. Used after a rules update; safe to run
// while queries read, since each ticket flips atomically from the old
// label to the new one.
func (s *Service) Reclassify(f domain.Filters) (int, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return 0, err
	}

	q := sqlite.TicketQuery{Since: f.Since(nowUTC()), IncludeInternal: f.IncludeInternal}
	if f.Source != domain.FilterAll {
		q.Source = f.Source
	}
	if f.Kind != domain.FilterAll {
		q.Kind = f.Kind
	}
	tickets, err := sqlite.ListTickets(s.db, q)
	if err != nil {
		return 0, fmt.Errorf("list tickets: %w", err)
	}

	changed := make(map[int64]domain.Prediction)
	for _, t := range tickets {
		p := s.classifier.Classify(t, normalize.Text(t.Title, t.Body))
		if p.Vertical != t.PredictedVertical || p.Basis != t.PredictedBasis || p.Confidence != t.PredictedConfidence {
			changed[t.ID] = p
		}
	}
	if err := sqlite.SavePredictions(s.db, changed); err != nil {
		return 0, fmt.Errorf("save predictions: %w", err)
	}
	return len(changed), nil
}

// Calibration sweeps keyword-stage thresholds over the filtered ticket
// set, using metadata-rule labels as ground truth.
func (s *Service) Calibration(f domain.Filters) (vertical.CalibrationReport, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return vertical.CalibrationReport{}, err
	}
	tickets, _, err := s.filteredTickets(f)
	if err != nil {
		return vertical.CalibrationReport{}, err
	}
	return vertical.Calibrate(s.classifier, tickets, func(t domain.Ticket) string {
		return normalize.Text(t.Title, t.Body)
	}), nil
}

// CalibrationByVertical breaks keyword-stage quality down per vertical
// at the service's configured cutoff.
func (s *Service) CalibrationByVertical(f domain.Filters) ([]vertical.VerticalMetrics, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	tickets, _, err := s.filteredTickets(f)
	if err != nil {
		return nil, err
	}
	return vertical.CalibrateByVertical(s.classifier, tickets, func(t domain.Ticket) string {
		return normalize.Text(t.Title, t.Body)
	}, s.cutoff), nil
}

// Rules exposes the active vertical table for presentation layers.
func (s *Service) Rules() []vertical.Rule {
	return s.classifier.Rules()
}

// Cutoff exposes the confidence cutoff applied at read time.
func (s *Service) Cutoff() float64 {
	return s.cutoff
}
