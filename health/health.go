package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/zero-day-ai/worldsync/queue"
)

// State is the operational state reported by a check.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

const defaultDialTimeout = 5 * time.Second

// Status is the result of one or more checks.
type Status struct {
	State   State          `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message}
}

func Degraded(message string, details map[string]any) Status {
	return Status{State: StateDegraded, Message: message, Details: details}
}

func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StateUnhealthy, Message: message, Details: details}
}

// Pinger is satisfied by queue.RedisFeed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports whether a dependency answers Ping.
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s is not configured", name), nil)
	}
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("%s ping failed", name),
			map[string]any{"error": err.Error()},
		)
	}
	return Healthy(fmt.Sprintf("%s reachable", name))
}

// NetworkCheck verifies TCP connectivity to a host and port.
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}
	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// EndpointCheck dials the host of an http(s) URL, defaulting the port from
// the scheme.
func EndpointCheck(ctx context.Context, rawURL string) Status {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Unhealthy(
			fmt.Sprintf("invalid endpoint %q", rawURL),
			map[string]any{"url": rawURL},
		)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Unhealthy(
				fmt.Sprintf("invalid port in endpoint %q", rawURL),
				map[string]any{"url": rawURL},
			)
		}
		port = n
	}
	return NetworkCheck(ctx, u.Hostname(), port)
}

// FileCheck verifies that a file or directory exists at path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return Healthy(fmt.Sprintf("%s '%s' exists", kind, path))
}

// FreshnessCheck reports how long ago something was last loaded. A zero
// time is unhealthy; anything older than maxAge is degraded.
func FreshnessCheck(name string, last time.Time, maxAge time.Duration, now time.Time) Status {
	if last.IsZero() {
		return Unhealthy(fmt.Sprintf("%s never loaded", name), nil)
	}
	age := now.Sub(last)
	if maxAge > 0 && age > maxAge {
		return Degraded(
			fmt.Sprintf("%s is stale", name),
			map[string]any{
				"age":     age.String(),
				"max_age": maxAge.String(),
			},
		)
	}
	return Healthy(fmt.Sprintf("%s loaded %s ago", name, age.Truncate(time.Second)))
}

// QueueCheck inspects ingestion statistics. The queue is degraded when no
// snapshot has arrived within maxAge or the arrival rate exceeds target.
// A zero maxAge or target disables that half of the check.
func QueueCheck(stats queue.Stats, maxAge time.Duration, target float64) Status {
	details := map[string]any{
		"queue_age":      stats.QueueAge.String(),
		"current_rate":   stats.CurrentRate,
		"chat_depth":     stats.ChatDepth,
		"snapshot_depth": stats.SnapshotDepth,
	}
	if maxAge > 0 && stats.QueueAge > maxAge {
		return Degraded("no snapshot received recently", details)
	}
	if target > 0 && stats.CurrentRate > target {
		return Degraded(
			fmt.Sprintf("snapshot rate %.2f/s above target %.2f/s", stats.CurrentRate, target),
			details,
		)
	}
	return Status{State: StateHealthy, Message: "queue flowing", Details: details}
}

// Combine aggregates statuses: any unhealthy makes the result unhealthy,
// otherwise any degraded makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.State {
		case StateUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StateDegraded:
			degraded = append(degraded, msg)
		case StateHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
