package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the system service used for readiness reports.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo attaches build metadata to probe responses.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock().UTC()
	}
	return h
}

// Healthz reports process liveness without touching downstream dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if v := strings.TrimSpace(h.build.Version); v != "" {
		payload["version"] = v
	}
	if sha := strings.TrimSpace(h.build.CommitSHA); sha != "" {
		payload["commitSha"] = sha
	}
	if env := strings.TrimSpace(h.build.Environment); env != "" {
		payload["environment"] = env
	}

	writeHealthJSON(w, http.StatusOK, payload)
}

// Readyz evaluates downstream dependencies through the system service.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.Health(r.Context())
	if err != nil {
		writeHealthJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  domain.HealthStatusError,
			"details": []string{err.Error()},
		})
		return
	}

	checks := make(map[string]map[string]any, len(report.Checks))
	var details []string
	for name, check := range report.Checks {
		entry := map[string]any{
			"status":  check.Status,
			"latency": check.Latency.String(),
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		checks[name] = entry
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			details = append(details, fmt.Sprintf("%s: %s", name, check.Error))
		}
	}
	sort.Strings(details)
	if details == nil {
		details = []string{}
	}

	payload := map[string]any{
		"status":  report.Status,
		"checks":  checks,
		"details": details,
		"uptime":  report.Uptime.String(),
	}
	if report.Version != "" {
		payload["version"] = report.Version
	}
	if report.CommitSHA != "" {
		payload["commitSha"] = report.CommitSHA
	}
	if report.Environment != "" {
		payload["environment"] = report.Environment
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, status, payload)
}

func writeHealthJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
