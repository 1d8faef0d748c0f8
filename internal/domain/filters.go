package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFilter marks request validation failures so transport layers
// can map them to a client error instead of a server error.
var ErrInvalidFilter = errors.New("invalid filter")

// ErrNotFound is returned when a referenced ticket does not exist.
var ErrNotFound = errors.New("not found")

const (
	FilterAll = "all"

	MinDays = 1
	MaxDays = 365
	MinK    = 1
	MaxK    = 100
	MaxTopN = 100
)

// Filters selects the ticket subset an insight operation runs over.
// The same filtered subset feeds both clustering and ranking.
type Filters struct {
	Days            int
	Source          string // "all" or a Source value
	Kind            string // "all" or a Kind value
	Vertical        string // "all" or a vertical slug
	IncludeInternal bool
}

// DefaultFilters returns the standard 30-day, all-sources view.
func DefaultFilters() Filters {
	return Filters{Days: 30, Source: FilterAll, Kind: FilterAll, Vertical: FilterAll}
}

// Normalized fills zero values with defaults without mutating f.
func (f Filters) Normalized() Filters {
	if f.Days == 0 {
		f.Days = 30
	}
	if f.Source == "" {
		f.Source = FilterAll
	}
	if f.Kind == "" {
		f.Kind = FilterAll
	}
	if f.Vertical == "" {
		f.Vertical = FilterAll
	}
	return f
}

func (f Filters) Validate() error {
	if f.Days < MinDays || f.Days > MaxDays {
		return fmt.Errorf("%w: days must be between %d and %d, got %d", ErrInvalidFilter, MinDays, MaxDays, f.Days)
	}
	if f.Source != FilterAll && !Source(f.Source).Valid() {
		return fmt.Errorf("%w: source must be all|chat|helpdesk|tracker, got %q", ErrInvalidFilter, f.Source)
	}
	if f.Kind != FilterAll && !Kind(f.Kind).Valid() {
		return fmt.Errorf("%w: kind must be all|issue|feature_request|unknown, got %q", ErrInvalidFilter, f.Kind)
	}
	return nil
}

// Since converts the day window into an absolute cutoff.
func (f Filters) Since(now time.Time) time.Time {
	return now.AddDate(0, 0, -f.Days)
}

// ValidateK checks a requested cluster count. The count is separately
// clamped to the ticket-set size during clustering.
func ValidateK(k int) error {
	if k < MinK || k > MaxK {
		return fmt.Errorf("%w: k must be between %d and %d, got %d", ErrInvalidFilter, MinK, MaxK, k)
	}
	return nil
}

// ValidateTopN checks a requested ranking length.
func ValidateTopN(n int) error {
	if n < 1 || n > MaxTopN {
		return fmt.Errorf("%w: n must be between 1 and %d, got %d", ErrInvalidFilter, MaxTopN, n)
	}
	return nil
}
