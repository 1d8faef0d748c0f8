package vertical

import (
	"sort"

	"pminsight/internal/domain"
)

// calibrationThresholds is the sweep grid for precision/coverage.
var calibrationThresholds = []float64{0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90, 0.95}

// CalibrationPoint reports keyword-stage quality at one threshold,
// measured against tickets whose vertical is known from metadata rules.
type CalibrationPoint struct {
	Threshold float64
	Precision float64
	Coverage  float64
	Assigned  int
	Correct   int
}

type CalibrationReport struct {
	TotalLabeled int
	ByThreshold  []CalibrationPoint
	LabelDist    map[string]int
}

// VerticalMetrics reports per-vertical precision/recall at a fixed
// threshold, again against rule-labeled tickets.
type VerticalMetrics struct {
	Slug        string
	GroundTruth int
	Assigned    int
	Correct     int
	Precision   float64
	Recall      float64
}

// Calibrate sweeps confidence thresholds for the keyword stage using
// metadata-rule labels as ground truth. Tickets without a rule label
// are skipped; the keyword stage is evaluated standalone so the rules
// being measured against never leak into the predictions.
func Calibrate(c *Classifier, tickets []domain.Ticket, textOf func(domain.Ticket) string) CalibrationReport {
	type example struct {
		gt   string
		pred string
		conf float64
	}

	var examples []example
	dist := make(map[string]int)
	for _, t := range tickets {
		gt, ok := c.classifyRules(t)
		if !ok {
			continue
		}
		dist[gt.Vertical]++
		pred, predOK := c.classifyKeywords(c.matchText(t, textOf(t)))
		ex := example{gt: gt.Vertical}
		if predOK {
			ex.pred = pred.Vertical
			ex.conf = pred.Confidence
		}
		examples = append(examples, ex)
	}

	report := CalibrationReport{TotalLabeled: len(examples), LabelDist: dist}
	if len(examples) == 0 {
		return report
	}

	for _, th := range calibrationThresholds {
		var assigned, correct int
		for _, ex := range examples {
			if ex.pred == "" || ex.conf < th {
				continue
			}
			assigned++
			if ex.pred == ex.gt {
				correct++
			}
		}
		point := CalibrationPoint{
			Threshold: th,
			Coverage:  float64(assigned) / float64(len(examples)),
			Assigned:  assigned,
			Correct:   correct,
		}
		if assigned > 0 {
			point.Precision = float64(correct) / float64(assigned)
		}
		report.ByThreshold = append(report.ByThreshold, point)
	}
	return report
}

// CalibrateByVertical breaks keyword-stage quality down per vertical at
// one threshold.
func CalibrateByVertical(c *Classifier, tickets []domain.Ticket, textOf func(domain.Ticket) string, threshold float64) []VerticalMetrics {
	bySlug := make(map[string]*VerticalMetrics)
	get := func(slug string) *VerticalMetrics {
		if m, ok := bySlug[slug]; ok {
			return m
		}
		m := &VerticalMetrics{Slug: slug}
		bySlug[slug] = m
		return m
	}

	for _, t := range tickets {
		gt, ok := c.classifyRules(t)
		if !ok {
			continue
		}
		get(gt.Vertical).GroundTruth++

		pred, predOK := c.classifyKeywords(c.matchText(t, textOf(t)))
		if !predOK || pred.Confidence < threshold {
			continue
		}
		m := get(pred.Vertical)
		m.Assigned++
		if pred.Vertical == gt.Vertical {
			m.Correct++
		}
	}

	out := make([]VerticalMetrics, 0, len(bySlug))
	for _, m := range bySlug {
		if m.Assigned > 0 {
			m.Precision = float64(m.Correct) / float64(m.Assigned)
		}
		if m.GroundTruth > 0 {
			m.Recall = float64(m.Correct) / float64(m.GroundTruth)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
