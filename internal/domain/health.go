package domain

// ============================================================
// Health & status responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual component.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// RefreshStats summarises refresh outcomes since process start.
type RefreshStats struct {
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	AuthFailed  int64   `json:"authFailed"`
	RateLimited int64   `json:"rateLimited"`
	Skipped     int64   `json:"skipped"`
	ErrorRate   float64 `json:"errorRate"`
	NeedsReauth bool    `json:"needsReauth"`
	InFlight    bool    `json:"inFlight"`
}

// TokenRequest carries a credential submitted for validation or re-auth.
type TokenRequest struct {
	Token string `json:"token"`
}

// TokenResponse reports the outcome of a credential check.
type TokenResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"` // invalid_auth, cannot_connect
}
