// Package process discovers running League client processes and extracts
// the credentials needed to talk to their local control API.
package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command-line keys read from the UX process.
const (
	ArgAppPID      = "app-pid"
	ArgAppPort     = "app-port"
	ArgAuthToken   = "remoting-auth-token"
	ArgInstallPath = "install-directory"
)

var (
	// ErrMissingArgument is returned when a required --key=value token is absent.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrMalformedCredentials is returned for unparsable numbers or short lockfile lines.
	ErrMalformedCredentials = errors.New("malformed credentials")
	// ErrPlatformUnsupported is returned by NewSystemLocator on hosts the
	// client does not ship for.
	ErrPlatformUnsupported = errors.New("platform not supported")
)

// Credentials identify one running client and authenticate against its API.
type Credentials struct {
	// PID is the OS process id of the discovered process. Connectors use it
	// as the tracking key.
	PID int
	// AppPID is the value of --app-pid (or the second lockfile field).
	AppPID int
	// Port is the local HTTPS/WSS port of the control API.
	Port int
	// AuthToken is the Basic auth password.
	AuthToken string
	// InstallPath is the client install directory, empty if unknown.
	InstallPath string
}

// ParseArgs collects --key=value tokens into a map. Tokens without "=" are
// ignored. Values may themselves contain "=".
func ParseArgs(args []string) map[string]string {
	parsed := make(map[string]string)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		key, value, ok := strings.Cut(arg[2:], "=")
		if !ok || key == "" {
			continue
		}
		parsed[key] = value
	}
	return parsed
}

// FromArgs builds credentials for pid from its command-line arguments.
func FromArgs(pid int, args []string) (Credentials, error) {
	parsed := ParseArgs(args)
	for _, key := range []string{ArgAppPID, ArgAppPort, ArgAuthToken} {
		if _, ok := parsed[key]; !ok {
			return Credentials{}, fmt.Errorf("%w: --%s", ErrMissingArgument, key)
		}
	}

	appPID, err := strconv.Atoi(parsed[ArgAppPID])
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: --%s=%q", ErrMalformedCredentials, ArgAppPID, parsed[ArgAppPID])
	}
	port, err := parsePort(parsed[ArgAppPort])
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		PID:         pid,
		AppPID:      appPID,
		Port:        port,
		AuthToken:   parsed[ArgAuthToken],
		InstallPath: parsed[ArgInstallPath],
	}, nil
}

// ParseLockfile parses a "pid:appPid:port:authToken" line. Trailing fields
// are ignored.
func ParseLockfile(line string) (Credentials, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) < 4 {
		return Credentials{}, fmt.Errorf("%w: lockfile has %d fields, want 4", ErrMalformedCredentials, len(parts))
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: pid %q", ErrMalformedCredentials, parts[0])
	}
	appPID, err := strconv.Atoi(parts[1])
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: app pid %q", ErrMalformedCredentials, parts[1])
	}
	port, err := parsePort(parts[2])
	if err != nil {
		return Credentials{}, err
	}
	if parts[3] == "" {
		return Credentials{}, fmt.Errorf("%w: empty auth token", ErrMalformedCredentials)
	}

	return Credentials{PID: pid, AppPID: appPID, Port: port, AuthToken: parts[3]}, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port %q", ErrMalformedCredentials, s)
	}
	return port, nil
}
