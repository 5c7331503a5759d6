package events

// Fallback labels for attributes that cannot be resolved. They double as
// breakdown bucket names, so they stay lowercase like real values.
const (
	UnknownDevice  = "unknown"
	UnknownBrowser = "unknown"
	UnknownOS      = "unknown"
	UnknownCountry = "unknown"
)

// DefaultCurrency is assumed when an amount arrives without a currency code.
const DefaultCurrency = "USD"
