package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/janekbaraniewski/apiusage/internal/version"
)

const (
	healthPingTimeout  = 700 * time.Millisecond
	healthPollInterval = 220 * time.Millisecond
)

// Compat compares a running daemon with this binary.
type Compat struct {
	Daemon string
	Client string
	API    string
}

func CompatFor(health HealthResponse) Compat {
	c := Compat{
		Daemon: strings.TrimSpace(health.DaemonVersion),
		Client: strings.TrimSpace(version.Version),
		API:    strings.TrimSpace(health.APIVersion),
	}
	if c.Daemon == "" {
		c.Daemon = "unknown"
	}
	return c
}

// APIMatch treats a daemon that does not report an API version as v1.
func (c Compat) APIMatch() bool {
	return c.API == "" || c.API == APIVersion
}

// OK requires the exact daemon version only when this binary is a release;
// development and snapshot builds accept any daemon speaking the same API.
func (c Compat) OK() bool {
	if !c.APIMatch() {
		return false
	}
	if !IsReleaseSemver(c.Client) {
		return true
	}
	return c.Daemon == c.Client
}

// Warning is "" when OK, otherwise a one-line hint for stderr.
func (c Compat) Warning() string {
	switch {
	case c.OK():
		return ""
	case !c.APIMatch():
		return fmt.Sprintf("daemon speaks API %s, this client expects %s; restart the daemon", c.API, APIVersion)
	case semver.IsValid(c.Daemon) && semver.Compare(c.Daemon, c.Client) < 0:
		return fmt.Sprintf("daemon %s is older than client %s; restart the daemon", c.Daemon, c.Client)
	default:
		return fmt.Sprintf("daemon %s differs from client %s", c.Daemon, c.Client)
	}
}

// IsReleaseSemver accepts canonical vMAJOR.MINOR.PATCH only.
func IsReleaseSemver(value string) bool {
	v := strings.TrimSpace(value)
	return semver.IsValid(v) && semver.Prerelease(v) == "" && semver.Build(v) == "" && semver.Canonical(v) == v
}

// WaitForHealthInfo polls /health until the daemon answers or timeout passes.
func WaitForHealthInfo(ctx context.Context, client *Client, timeout time.Duration) (HealthResponse, error) {
	if client == nil {
		return HealthResponse{}, errors.New("daemon client is nil")
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		pingCtx, pingCancel := context.WithTimeout(waitCtx, healthPingTimeout)
		health, err := client.HealthInfo(pingCtx)
		pingCancel()
		if err == nil {
			return health, nil
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return HealthResponse{}, ctx.Err()
			}
			if errors.Is(err, errDaemonUnavailable) {
				return HealthResponse{}, fmt.Errorf("%w at %s", err, client.BaseURL)
			}
			return HealthResponse{}, fmt.Errorf("%w at %s: %v", errDaemonUnavailable, client.BaseURL, err)
		case <-ticker.C:
		}
	}
}
