package lcu

import (
	"errors"

	"github.com/lcudriver/lcu-driver/pkg/process"
)

var (
	// ErrPlatformUnsupported is returned by NewConnector when the default
	// system locator has no executable names for the host OS.
	ErrPlatformUnsupported = process.ErrPlatformUnsupported
	// ErrNoClientDetected is returned when bounded discovery ends with no match.
	ErrNoClientDetected = errors.New("no client detected")
	// ErrInvalidRegistration is returned for bad uris, unknown event types or
	// event names, and nil handlers.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrPrematureRequest is returned by Connection.Request outside the
	// Ready, WebsocketActive and Idle states.
	ErrPrematureRequest = errors.New("request issued before the api is ready")
	// ErrInvalidURI is returned for endpoints that do not start with "/" or
	// carry unresolved placeholders.
	ErrInvalidURI = errors.New("invalid uri")
	// ErrAlreadyRunning is returned by Connector.Start while a previous
	// Start is still running.
	ErrAlreadyRunning = errors.New("connector already running")
)

var (
	errStopped       = errors.New("connection stopped")
	errProcessExited = errors.New("client process exited")
	errTracked       = errors.New("pid already tracked")
)
