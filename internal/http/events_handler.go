package http

import (
	"strconv"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/events"
	"sitepulse/internal/http/middleware"
	"sitepulse/internal/timeframe"
)

// PaginationData describes one page of the event log.
type PaginationData struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int64 `json:"total_items"`
	PerPage     int   `json:"per_page"`
}

// EventLogEntry is the wire shape of one processed event in the log. Raw
// payloads and enrichment internals stay out of it.
type EventLogEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	EventType events.EventType `json:"event_type"`
	Path      string           `json:"path"`
	Hostname  string           `json:"hostname,omitempty"`
	VisitorID string           `json:"visitor_id"`
	Source    string           `json:"source,omitempty"`
	Medium    string           `json:"medium,omitempty"`
	Country   string           `json:"country,omitempty"`
	EventName string           `json:"event_name,omitempty"`
}

// EventsResponse is one page of the event log.
type EventsResponse struct {
	Events     []EventLogEntry `json:"events"`
	Pagination PaginationData  `json:"pagination"`
}

// EventsIndexAction pages through a site's processed events, newest first.
// Filters: type, path, visitor_id, event_name, source, period.
func EventsIndexAction(ctx *cartridge.Context) error {
	site := middleware.CurrentSite(ctx.Ctx)
	if site == nil {
		ctx.Logger.Error("Events request without site scope")
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	tf, err := timeframe.NewTrailingTimeFrame(ctx.Query("period"), time.Now())
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid period"})
	}

	page, _ := strconv.Atoi(ctx.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit := events.DefaultEventPageSize

	result, err := events.GetFilteredEvents(scopedDB(ctx), events.EventFilters{
		SiteID:    site.ID,
		From:      tf.From,
		To:        tf.To,
		EventType: ctx.Query("type"),
		Path:      ctx.Query("path"),
		VisitorID: ctx.Query("visitor_id"),
		EventName: ctx.Query("event_name"),
		Source:    ctx.Query("source"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		ctx.Logger.Error("Failed to fetch events",
			slog.Uint64("site_id", uint64(site.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	entries := make([]EventLogEntry, len(result.Events))
	for i, event := range result.Events {
		entries[i] = EventLogEntry{
			Timestamp: event.Timestamp,
			EventType: event.EventType,
			Path:      event.Path,
			Hostname:  event.Hostname,
			VisitorID: event.VisitorID,
			Source:    event.Source,
			Medium:    event.Medium,
			Country:   event.Country,
			EventName: event.EventName,
		}
	}

	totalPages := (int(result.Total) + limit - 1) / limit

	return ctx.JSON(EventsResponse{
		Events: entries,
		Pagination: PaginationData{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalItems:  result.Total,
			PerPage:     limit,
		},
	})
}
