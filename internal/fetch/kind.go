package fetch

import (
	"regexp"
	"strings"

	"pminsight/internal/domain"
)

// Word lists for the coarse issue/feature split. Both matching or
// neither matching falls through to source norms.
var (
	featureRe = regexp.MustCompile(`(?i)\b(feature|request|enhancement|support.*|would like|nice to have|roadmap)\b`)
	issueRe   = regexp.MustCompile(`(?i)\b(bug|error|fail|failing|broken|crash|incident|downtime|not working|fix)\b`)
)

// InferKind labels a ticket as issue or feature_request from its text.
// Ambiguous text falls back to the source's norm: tracker items skew
// toward engineering issues, helpdesk items toward requests. Chat stays
// unknown rather than guessing.
func InferKind(t domain.Ticket) domain.Kind {
	text := strings.ToLower(strings.Join([]string{
		t.Title, t.Body, strings.Join(t.Labels, ","), t.Status,
	}, " "))

	feature := featureRe.MatchString(text)
	issue := issueRe.MatchString(text)
	switch {
	case feature && !issue:
		return domain.KindFeatureRequest
	case issue && !feature:
		return domain.KindIssue
	}

	switch t.Source {
	case domain.SourceTracker:
		return domain.KindIssue
	case domain.SourceHelpdesk:
		return domain.KindFeatureRequest
	}
	return domain.KindUnknown
}
