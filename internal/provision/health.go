package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

var uptimeCmd = script.Raw("uptime", "cat /proc/uptime")

// HealthChecker polls a host after an operation: until it accepts SSH
// again after a reboot, or until a container it started is running.
type HealthChecker struct {
	orch             *Orchestrator
	target           ssh.Target
	trustFingerprint string
	timeout          time.Duration
	retries          int
	interval         time.Duration
}

// NewHealthChecker creates a health checker for target
func (o *Orchestrator) NewHealthChecker(target ssh.Target, trustFingerprint string) *HealthChecker {
	return &HealthChecker{
		orch:             o,
		target:           target,
		trustFingerprint: trustFingerprint,
		timeout:          3 * time.Minute,
		retries:          36,
		interval:         5 * time.Second,
	}
}

// SetTimeout sets the overall timeout
func (h *HealthChecker) SetTimeout(timeout time.Duration) {
	h.timeout = timeout
}

// SetRetries sets the number of retries
func (h *HealthChecker) SetRetries(retries int) {
	h.retries = retries
}

// SetInterval sets the interval between retries
func (h *HealthChecker) SetInterval(interval time.Duration) {
	h.interval = interval
}

// HealthResult contains the result of a health check
type HealthResult struct {
	Healthy  bool
	Message  string
	Attempts int
	Elapsed  time.Duration
}

// WaitForHost polls until the host accepts a session and runs a command.
// A host that is still shutting down may answer the first attempts, so
// the first poll happens after one interval.
func (h *HealthChecker) WaitForHost(ctx context.Context) (*HealthResult, error) {
	if err := h.target.Validate(); err != nil {
		return nil, err
	}
	return h.poll(ctx, func(ctx context.Context) (bool, string, error) {
		session, err := h.orch.open(ctx, h.target, h.trustFingerprint)
		if err != nil {
			if isFatalConnectError(err) {
				return false, "", err
			}
			return false, "host not reachable yet", nil
		}
		defer session.Close()

		if _, err := firstLine(ctx, session, uptimeCmd); err != nil {
			return false, "host not ready: " + err.Error(), nil
		}
		return true, "host is up", nil
	}, true)
}

// CheckContainer reports whether the named container is running
func (h *HealthChecker) CheckContainer(ctx context.Context, name string) (bool, string, error) {
	session, err := h.orch.open(ctx, h.target, h.trustFingerprint)
	if err != nil {
		return false, "", err
	}
	defer session.Close()

	cmd := script.Raw("container-status",
		"sudo docker inspect "+script.Quote(name)+" --format '{{.State.Status}}' 2>/dev/null || echo missing")
	status, err := firstLine(ctx, session, cmd)
	if err != nil {
		return false, "", err
	}
	return status == "running", status, nil
}

// WaitForContainer polls until the named container is running
func (h *HealthChecker) WaitForContainer(ctx context.Context, name string) (*HealthResult, error) {
	if err := h.target.Validate(); err != nil {
		return nil, err
	}
	return h.poll(ctx, func(ctx context.Context) (bool, string, error) {
		running, status, err := h.CheckContainer(ctx, name)
		if err != nil {
			if isFatalConnectError(err) || ctx.Err() != nil {
				return false, "", err
			}
			return false, "container status unavailable: " + err.Error(), nil
		}
		if !running {
			return false, fmt.Sprintf("container %s not running (status: %s)", name, status), nil
		}
		return true, "container " + name + " running", nil
	}, false)
}

func (h *HealthChecker) poll(ctx context.Context, check func(context.Context) (bool, string, error), delayFirst bool) (*HealthResult, error) {
	result := &HealthResult{}
	start := h.orch.now()
	deadline := start.Add(h.timeout)

	for attempt := 1; attempt <= h.retries; attempt++ {
		if attempt > 1 || delayFirst {
			if err := sleepCtx(ctx, h.interval); err != nil {
				return result, err
			}
		}
		if h.orch.now().After(deadline) {
			result.Message = "health check timeout"
			break
		}

		result.Attempts = attempt
		ok, msg, err := check(ctx)
		result.Elapsed = h.orch.now().Sub(start)
		if err != nil {
			return result, err
		}
		result.Message = msg
		if ok {
			result.Healthy = true
			return result, nil
		}
		h.orch.logger.Debug().Object("target", h.target).Int("attempt", attempt).Msg(msg)
	}
	return result, nil
}

// isFatalConnectError reports errors that retrying cannot fix
func isFatalConnectError(err error) bool {
	switch err.(type) {
	case *ssh.AuthenticationError, *ssh.HostKeyMismatchError, *ssh.UnknownHostKeyError:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
