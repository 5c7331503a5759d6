package events

import "fmt"

// ValidationError signals a payload that cannot be normalized into an event.
// The field and reason are safe to return to the sender.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event payload: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a payload field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UnknownTenantError signals an event whose site_id does not resolve to a
// registered site. Such events are rejected, never bucketed elsewhere.
type UnknownTenantError struct {
	SiteID uint
}

func (e *UnknownTenantError) Error() string {
	return fmt.Sprintf("unknown site: %d", e.SiteID)
}

// NewUnknownTenantError creates an UnknownTenantError for a site ID.
func NewUnknownTenantError(siteID uint) *UnknownTenantError {
	return &UnknownTenantError{SiteID: siteID}
}
