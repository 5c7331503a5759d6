package analytics

import (
	"fmt"
	"math"
	"strings"

	"gorm.io/gorm"

	"sitepulse/internal/events"
)

// Step types accepted in funnel definitions.
const (
	StepTypePageView = "pageview"
	StepTypeEvent    = "event"
)

// FunnelStep is one stage of a funnel definition. Pageview steps match on
// path, event steps on the custom event name.
type FunnelStep struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FunnelStepResult is one stage of a computed funnel. Dropoff is the percent
// of the previous stage's visitors lost at this stage, 0 for the first stage.
type FunnelStepResult struct {
	Label   string `json:"label"`
	Count   int64  `json:"count"`
	Dropoff int    `json:"dropoff"`
}

// InvalidFunnelError is returned for funnel definitions that cannot be
// computed: fewer than two steps, an unknown step type, or an empty value.
type InvalidFunnelError struct {
	Reason string
}

func (e *InvalidFunnelError) Error() string {
	return fmt.Sprintf("invalid funnel: %s", e.Reason)
}

// NewInvalidFunnelError creates an InvalidFunnelError with the given reason.
func NewInvalidFunnelError(reason string) *InvalidFunnelError {
	return &InvalidFunnelError{Reason: reason}
}

// funnelEventRow is the per-event slice of columns the matcher needs.
type funnelEventRow struct {
	VisitorID string
	EventType string
	Path      string
	EventName string
}

// ComputeFunnel runs sequential set narrowing over the window: the first
// stage is every distinct visitor matching step 0, and each later stage keeps
// only the previous stage's visitors that also match its step. Steps are
// unordered co-occurrence matches, there is no between-step timestamp
// constraint. All candidate events are fetched in one windowed query and the
// narrowing happens on in-memory match masks.
func ComputeFunnel(db *gorm.DB, params QueryParams, steps []FunnelStep) ([]FunnelStepResult, error) {
	if err := validateFunnelSteps(steps); err != nil {
		return nil, err
	}

	matches, err := fetchFunnelMatches(db, params, steps)
	if err != nil {
		return nil, err
	}

	counts := narrowFunnelSets(matches, len(steps))

	results := make([]FunnelStepResult, len(steps))
	for i, step := range steps {
		dropoff := 0
		if i > 0 {
			prev := counts[i-1]
			if prev == 0 {
				// Nobody reached the previous stage, so everyone is lost
				// here. Defining this as 100 avoids dividing by zero.
				dropoff = 100
			} else {
				dropoff = int(math.Round(float64(prev-counts[i]) / float64(prev) * 100))
			}
		}
		results[i] = FunnelStepResult{
			Label:   step.Value,
			Count:   counts[i],
			Dropoff: dropoff,
		}
	}

	return results, nil
}

// validateFunnelSteps rejects definitions the matcher cannot evaluate.
func validateFunnelSteps(steps []FunnelStep) error {
	if len(steps) < 2 {
		return NewInvalidFunnelError("requires at least 2 steps")
	}
	for i, step := range steps {
		if step.Type != StepTypePageView && step.Type != StepTypeEvent {
			return NewInvalidFunnelError(fmt.Sprintf("step %d has unknown type %q", i, step.Type))
		}
		if strings.TrimSpace(step.Value) == "" {
			return NewInvalidFunnelError(fmt.Sprintf("step %d has an empty value", i))
		}
	}
	return nil
}

// fetchFunnelMatches pulls every event in the window matching any step and
// folds them into per-visitor step-match masks.
func fetchFunnelMatches(db *gorm.DB, params QueryParams, steps []FunnelStep) (map[string][]bool, error) {
	conditions := make([]string, len(steps))
	args := []any{
		params.SiteID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	}
	for i, step := range steps {
		switch step.Type {
		case StepTypePageView:
			conditions[i] = "(event_type = ? AND path = ?)"
			args = append(args, events.EventTypePageView, step.Value)
		case StepTypeEvent:
			conditions[i] = "(event_type = ? AND event_name = ?)"
			args = append(args, events.EventTypeCustom, step.Value)
		}
	}

	query := fmt.Sprintf(`
    SELECT visitor_id, event_type, path, event_name
    FROM events
    WHERE site_id = ?
    AND timestamp >= ? AND timestamp < ?
    AND (%s)
    `, strings.Join(conditions, " OR "))

	var rows []funnelEventRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching funnel events: %w", err)
	}

	matches := make(map[string][]bool)
	for _, row := range rows {
		mask, ok := matches[row.VisitorID]
		if !ok {
			mask = make([]bool, len(steps))
			matches[row.VisitorID] = mask
		}
		for i, step := range steps {
			if stepMatches(step, row) {
				mask[i] = true
			}
		}
	}

	return matches, nil
}

// stepMatches reports whether one event row satisfies one step's predicate.
func stepMatches(step FunnelStep, row funnelEventRow) bool {
	switch step.Type {
	case StepTypePageView:
		return row.EventType == string(events.EventTypePageView) && row.Path == step.Value
	case StepTypeEvent:
		return row.EventType == string(events.EventTypeCustom) && row.EventName == step.Value
	}
	return false
}

// narrowFunnelSets walks the stages, intersecting each with the survivors of
// the stage before. Once a stage is empty every later count stays zero.
func narrowFunnelSets(matches map[string][]bool, stepCount int) []int64 {
	counts := make([]int64, stepCount)

	survivors := make(map[string]struct{})
	for visitorID, mask := range matches {
		if mask[0] {
			survivors[visitorID] = struct{}{}
		}
	}
	counts[0] = int64(len(survivors))

	for i := 1; i < stepCount; i++ {
		next := make(map[string]struct{}, len(survivors))
		for visitorID := range survivors {
			if matches[visitorID][i] {
				next[visitorID] = struct{}{}
			}
		}
		counts[i] = int64(len(next))
		survivors = next
	}

	return counts
}
