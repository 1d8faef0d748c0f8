package vertical

import (
	"strings"

	"pminsight/internal/domain"
)

// Resolution bases, ordered by precedence.
const (
	BasisOverride = "override"
	BasisProject  = "project"
	BasisLabel    = "label"
	BasisTag      = "tag"
	BasisKeyword  = "keyword"
)

// Confidences for the deterministic stages. Keyword confidence is
// computed from the score and always lands below LabelConfidence.
const (
	OverrideConfidence = 1.0
	ProjectConfidence  = 0.95
	LabelConfidence    = 0.90
)

// Scoring tunes the keyword stage. Multi-word phrases carry more weight
// than single common words; the raw score is capped before mapping onto
// the confidence band.
type Scoring struct {
	PhraseBonus   float64 // extra weight per additional word in a matched phrase
	ScoreCap      float64
	MinScore      float64 // below this, the keyword stage abstains
	MinConfidence float64
	MaxConfidence float64
}

func DefaultScoring() Scoring {
	return Scoring{
		PhraseBonus:   0.5,
		ScoreCap:      3.0,
		MinScore:      1.0,
		MinConfidence: 0.5,
		MaxConfidence: 0.9,
	}
}

// Classifier maps tickets onto verticals. Classification is pure and
// deterministic: the same ticket always yields the same prediction.
type Classifier struct {
	rules   []Rule
	bySlug  map[string]Rule
	scoring Scoring
}

func NewClassifier(rules []Rule, scoring Scoring) *Classifier {
	bySlug := make(map[string]Rule, len(rules))
	for _, r := range rules {
		bySlug[r.Slug] = r
	}
	return &Classifier{rules: rules, bySlug: bySlug, scoring: scoring}
}

// Rule looks up a vertical definition by slug.
func (c *Classifier) Rule(slug string) (Rule, bool) {
	r, ok := c.bySlug[slug]
	return r, ok
}

func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify runs the metadata rules and then the keyword stage over the
// normalized text. Overrides are resolved by the caller, which owns the
// override store; they always beat whatever this returns.
func (c *Classifier) Classify(t domain.Ticket, text string) domain.Prediction {
	if p, ok := c.classifyRules(t); ok {
		return p
	}
	if p, ok := c.classifyKeywords(c.matchText(t, text)); ok {
		p.TicketID = t.ID
		return p
	}
	return domain.Prediction{TicketID: t.ID}
}

// classifyRules applies the structured-metadata stage: tracker project
// key beats tracker labels and helpdesk tags; horizontal verticals lose
// ties at equal confidence.
func (c *Classifier) classifyRules(t domain.Ticket) (domain.Prediction, bool) {
	labels := labelSet(t.Labels)
	project := strings.ToUpper(strings.TrimSpace(t.Project))

	var best domain.Prediction
	var bestRule Rule
	found := false

	consider := func(r Rule, p domain.Prediction) {
		if !found || betterPrediction(p, r, best, bestRule) {
			best, bestRule, found = p, r, true
		}
	}

	for _, r := range c.rules {
		if t.Source == domain.SourceTracker && project != "" && containsFold(r.TrackerProjects, project) {
			consider(r, domain.Prediction{
				TicketID:   t.ID,
				Vertical:   r.Slug,
				Name:       r.Name,
				Confidence: ProjectConfidence,
				Basis:      BasisProject,
				Matched:    []string{project},
			})
			continue
		}
		if t.Source == domain.SourceTracker && len(labels) > 0 {
			if m := intersect(labels, r.TrackerLabels); len(m) > 0 {
				consider(r, domain.Prediction{
					TicketID:   t.ID,
					Vertical:   r.Slug,
					Name:       r.Name,
					Confidence: LabelConfidence,
					Basis:      BasisLabel,
					Matched:    m,
				})
			}
		}
		if t.Source == domain.SourceHelpdesk && len(labels) > 0 {
			if m := intersect(labels, r.HelpdeskTags); len(m) > 0 {
				consider(r, domain.Prediction{
					TicketID:   t.ID,
					Vertical:   r.Slug,
					Name:       r.Name,
					Confidence: LabelConfidence,
					Basis:      BasisTag,
					Matched:    m,
				})
			}
		}
	}
	return best, found
}

// classifyKeywords scores every vertical's keyword list against the
// match text and abstains below MinScore.
func (c *Classifier) classifyKeywords(matchText string) (domain.Prediction, bool) {
	if matchText == "" {
		return domain.Prediction{}, false
	}

	var bestScore float64
	var bestRule Rule
	var bestMatched []string
	found := false

	for _, r := range c.rules {
		var score float64
		var matched []string
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || !strings.Contains(matchText, kw) {
				continue
			}
			score += 1.0 + c.scoring.PhraseBonus*float64(len(strings.Fields(kw))-1)
			matched = append(matched, kw)
		}
		if score < c.scoring.MinScore {
			continue
		}
		better := !found ||
			score > bestScore ||
			(score == bestScore && bestRule.Horizontal && !r.Horizontal)
		if better {
			bestScore, bestRule, bestMatched, found = score, r, matched, true
		}
	}
	if !found {
		return domain.Prediction{}, false
	}

	capped := bestScore
	if capped > c.scoring.ScoreCap {
		capped = c.scoring.ScoreCap
	}
	span := c.scoring.MaxConfidence - c.scoring.MinConfidence
	conf := c.scoring.MinConfidence + span*capped/c.scoring.ScoreCap

	return domain.Prediction{
		Vertical:   bestRule.Slug,
		Name:       bestRule.Name,
		Confidence: conf,
		Basis:      BasisKeyword,
		Matched:    bestMatched,
	}, true
}

// matchText extends the normalized text with labels and the project key
// so metadata terms also count as keyword signal.
func (c *Classifier) matchText(t domain.Ticket, text string) string {
	parts := []string{text}
	if len(t.Labels) > 0 {
		parts = append(parts, strings.ToLower(strings.Join(t.Labels, " ")))
	}
	if t.Project != "" {
		parts = append(parts, strings.ToLower(t.Project))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// betterPrediction prefers higher confidence, then non-horizontal rules.
func betterPrediction(p domain.Prediction, r Rule, cur domain.Prediction, curRule Rule) bool {
	if p.Confidence != cur.Confidence {
		return p.Confidence > cur.Confidence
	}
	return curRule.Horizontal && !r.Horizontal
}

func labelSet(labels []string) map[string]bool {
	if len(labels) == 0 {
		return nil
	}
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			set[l] = true
		}
	}
	return set
}

func intersect(set map[string]bool, candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if set[strings.ToLower(c)] {
			out = append(out, strings.ToLower(c))
		}
	}
	return out
}

func containsFold(list []string, upper string) bool {
	for _, v := range list {
		if strings.ToUpper(strings.TrimSpace(v)) == upper {
			return true
		}
	}
	return false
}
