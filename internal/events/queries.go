package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultEventPageSize caps event-log pages when the caller does not set a
// limit.
const DefaultEventPageSize = 50

// EventFilters narrows the event log. Zero values mean "no filter"; the
// site scope is mandatory.
type EventFilters struct {
	SiteID    uint
	From      time.Time
	To        time.Time
	EventType string
	Path      string
	VisitorID string
	EventName string
	Source    string
	Limit     int
	Offset    int
}

// FilteredEvents is one page of the event log plus the unpaged total.
type FilteredEvents struct {
	Events []Event
	Total  int64
}

// GetFilteredEvents pages through a site's processed events, newest first.
func GetFilteredEvents(db *gorm.DB, filters EventFilters) (*FilteredEvents, error) {
	if filters.SiteID == 0 {
		return nil, fmt.Errorf("event filters require a site")
	}

	query := db.Model(&Event{}).Where("site_id = ?", filters.SiteID)
	if !filters.From.IsZero() {
		query = query.Where("timestamp >= ?", filters.From.UTC())
	}
	if !filters.To.IsZero() {
		query = query.Where("timestamp < ?", filters.To.UTC())
	}
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}
	if filters.Path != "" {
		query = query.Where("path LIKE ?", "%"+filters.Path+"%")
	}
	if filters.VisitorID != "" {
		query = query.Where("visitor_id = ?", filters.VisitorID)
	}
	if filters.EventName != "" {
		query = query.Where("event_name = ?", filters.EventName)
	}
	if filters.Source != "" {
		query = query.Where("source = ?", filters.Source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultEventPageSize
	}

	var rows []Event
	err := query.Order("timestamp desc").Limit(limit).Offset(filters.Offset).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	return &FilteredEvents{Events: rows, Total: total}, nil
}

// CountPendingStaged returns the staged backlog size.
func CountPendingStaged(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&StagedEvent{}).Where("processed = 0").Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count staged events: %w", err)
	}
	return count, nil
}
