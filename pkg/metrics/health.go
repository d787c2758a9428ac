package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Components the pipeline reports on
const (
	ComponentQueue   = "queue"
	ComponentTracker = "tracker"
)

// HealthStatus is the body of /healthz and /readyz
type HealthStatus struct {
	Status     string            `json:"status"` // healthy/unhealthy or ready/not_ready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds component states for the process
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   []string{ComponentQueue, ComponentTracker},
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent under the name callers use after
// startup
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports every registered component; one unhealthy component
// makes the process unhealthy
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := HealthStatus{Status: "healthy", Components: make(map[string]string)}
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			status.Components[name] = "healthy"
			continue
		}
		status.Status = "unhealthy"
		status.Components[name] = "unhealthy: " + comp.Message
	}
	return healthChecker.stamp(status)
}

// GetReadiness reports whether the critical components are up
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := HealthStatus{Status: "ready", Components: make(map[string]string)}
	for _, name := range healthChecker.critical {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			status.Status = "not_ready"
			status.Message = "waiting for " + name
			status.Components[name] = "not registered"
		case !comp.Healthy:
			status.Status = "not_ready"
			status.Message = name + " is down"
			status.Components[name] = "not ready: " + comp.Message
		default:
			status.Components[name] = "ready"
		}
	}
	return healthChecker.stamp(status)
}

// stamp fills the process fields; callers hold the read lock
func (h *HealthChecker) stamp(s HealthStatus) HealthStatus {
	s.Timestamp = time.Now()
	s.Version = h.version
	s.Uptime = time.Since(h.startTime).Round(time.Second).String()
	return s
}

// HealthHandler serves GetHealth, 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeStatus(w, health, health.Status == "healthy")
	}
}

// ReadyHandler serves GetReadiness, 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeStatus(w, readiness, readiness.Status == "ready")
	}
}

// LivenessHandler answers 200 while the process is running
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		status := healthChecker.stamp(HealthStatus{Status: "alive"})
		healthChecker.mu.RUnlock()
		writeStatus(w, status, true)
	}
}

func writeStatus(w http.ResponseWriter, status HealthStatus, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
