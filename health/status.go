package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/yejue/liteboty/service"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	busURLRegex      = regexp.MustCompile(`(?:https?|nats|rediss?|wss?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one service or of the whole supervisor.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the lifecycle timings of a service.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	StartTime    time.Time     `json:"start_time,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithSubStatus returns a copy of s with sub appended. The receiver's slice
// is never shared with the result.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Sanitize strips URLs, file paths, IP addresses, ports and credentials from
// an error message.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}

	// URLs go first; they contain paths and ports.
	out := busURLRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = windowsPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}

// FromServiceInfo maps a service snapshot onto a Status.
func FromServiceInfo(info service.Info) Status {
	var s Status
	switch info.Status {
	case service.StatusRunning:
		s = NewHealthy(info.Name, "service running")
	case service.StatusLoaded, service.StatusStarting:
		s = NewDegraded(info.Name, "service "+info.Status.String())
	default:
		s = NewUnhealthy(info.Name, "service "+info.Status.String())
	}
	s.Metrics = &Metrics{
		Uptime:       info.Uptime,
		StartTime:    info.StartTime,
		LastActivity: info.LastUpdate,
	}
	return s
}

// FromError builds an unhealthy status whose message is the sanitized error.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, Sanitize(err.Error()))
}
