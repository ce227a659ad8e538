package models

// HealthStatus is the reachability of a source
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// SourceHealth is the result of a cheap reachability check
type SourceHealth struct {
	Source  Source       `json:"source" yaml:"source"`
	Status  HealthStatus `json:"status" yaml:"status"`
	Path    string       `json:"path,omitempty" yaml:"path,omitempty"`
	Message string       `json:"message,omitempty" yaml:"message,omitempty"`
}
