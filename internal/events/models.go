package events

import (
	"time"

	"sitepulse/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	EventTypePageView      EventType = "pageview"
	EventTypeCustom        EventType = "event"
	EventTypeGoal          EventType = "goal"
	EventTypeIdentify      EventType = "identify"
	EventTypeRevenue       EventType = "revenue"
	EventTypeEngagement    EventType = "engagement"
	EventTypeOutboundClick EventType = "outbound_click"
	EventTypeDownload      EventType = "download"
	EventTypeSearch        EventType = "search"
)

var validEventTypes = map[EventType]bool{
	EventTypePageView:      true,
	EventTypeCustom:        true,
	EventTypeGoal:          true,
	EventTypeIdentify:      true,
	EventTypeRevenue:       true,
	EventTypeEngagement:    true,
	EventTypeOutboundClick: true,
	EventTypeDownload:      true,
	EventTypeSearch:        true,
}

// Valid reports whether t is one of the accepted event types.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// Event is a processed, immutable analytics fact. Rows are never updated;
// they only leave the store through site deletion or retention cleanup.
type Event struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	SiteID          uint      `gorm:"index:idx_events_site_timestamp;not null"`
	VisitorID       string    `gorm:"index:idx_events_site_visitor;size:64;not null"`
	SessionID       string    `gorm:"index;not null"`
	EventType       EventType `gorm:"index;not null"`
	Timestamp       time.Time `gorm:"index:idx_events_site_timestamp;not null"`
	Path            string    `gorm:"index"`
	Hostname        string
	Title           string
	Referrer        string
	ReferrerHost    string `gorm:"index"`
	Source          string `gorm:"index"`
	Medium          string
	UTMSource       string
	UTMMedium       string
	UTMCampaign     string
	UTMTerm         string
	UTMContent      string
	DeviceType      string
	Browser         string
	OperatingSystem string
	Country         string
	EventName       string      `gorm:"index"`
	EventData       models.JSON `gorm:"type:text"`
	RevenueCents    int64
	Currency        string
	RawPayload      models.JSON `gorm:"type:text"`
	CreatedAt       time.Time
}

// StagedEvent is a validated event awaiting processing. Ingestion appends
// here and acknowledges immediately; the processor job classifies traffic,
// enriches device and geo attributes, and promotes rows to events in batches.
type StagedEvent struct {
	ID           uint      `gorm:"primaryKey"`
	SiteID       uint      `gorm:"index"`
	VisitorID    string    `gorm:"index;size:64"`
	SessionID    string
	EventType    EventType `gorm:"index"`
	Timestamp    time.Time `gorm:"index"`
	Path         string
	Hostname     string
	Title        string
	Referrer     string
	UTMSource    string
	UTMMedium    string
	UTMCampaign  string
	UTMTerm      string
	UTMContent   string
	EventName    string
	EventData    models.JSON `gorm:"type:text"`
	RevenueCents int64
	Currency     string
	RemoteIP     string
	UserAgent    string
	RawPayload   models.JSON `gorm:"type:text"`
	CreatedAt    time.Time   `gorm:"index"`
	Processed    int         `gorm:"index"`
}
