package davclient

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/davbridge/davbridge/internal/httpclient"
)

// ResourceKind names the resource a typed error refers to.
type ResourceKind string

const (
	ResourceEvent      ResourceKind = "event"
	ResourceContact    ResourceKind = "contact"
	ResourceInvitation ResourceKind = "invitation"
)

// ConflictError reports an optimistic-concurrency failure: the server
// answered 412 because the targeted object changed (or, for creates, already
// exists). It is recoverable; the caller re-reads and retries or reports the
// conflict upstream. It never enters the retry engine.
type ConflictError struct {
	Resource ResourceKind
	URL      string
	Remedy   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict at %s: %s", e.Resource, e.URL, e.Remedy)
}

// NotFoundError reports a semantic miss, e.g. an event UID that is not in any
// accessible calendar.
type NotFoundError struct {
	Resource ResourceKind
	Detail   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Detail)
}

// StartupErrorKind categorizes validation failures so the caller can show a
// targeted remedy.
type StartupErrorKind string

const (
	StartupErrDNS     StartupErrorKind = "dns"
	StartupErrAuth    StartupErrorKind = "auth"
	StartupErrTLS     StartupErrorKind = "tls"
	StartupErrTimeout StartupErrorKind = "timeout"
	StartupErrRefused StartupErrorKind = "refused"
	StartupErrUnknown StartupErrorKind = "unknown"
)

// StartupError wraps a startup validation failure with its category and a
// remedy suitable for showing to the user.
type StartupError struct {
	Kind   StartupErrorKind
	Remedy string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup validation failed (%s): %v; %s", e.Kind, e.Err, e.Remedy)
}

func (e *StartupError) Unwrap() error { return e.Err }

// CategorizeStartupError wraps err in a StartupError with the matching kind.
func CategorizeStartupError(err error) *StartupError {
	kind := StartupErrUnknown
	remedy := "check the server URL and network connectivity"

	var dnsErr *net.DNSError
	var certErr *x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError

	switch {
	case errors.As(err, &dnsErr):
		kind = StartupErrDNS
		remedy = "the server hostname does not resolve; check the server URL"
	case errors.Is(err, httpclient.ErrUnauthorized):
		kind = StartupErrAuth
		remedy = "the server rejected the credentials; check username, password or token"
	case errors.As(err, &certErr), errors.As(err, &unknownAuthErr), errors.As(err, &hostnameErr):
		kind = StartupErrTLS
		remedy = "the server certificate could not be verified; check the server's TLS setup"
	case errors.Is(err, context.DeadlineExceeded):
		kind = StartupErrTimeout
		remedy = "the server did not answer in time; check connectivity or raise the timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = StartupErrRefused
		remedy = "the server refused the connection; check the port and that the service is running"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = StartupErrTimeout
			remedy = "the server did not answer in time; check connectivity or raise the timeout"
		}
	}

	return &StartupError{Kind: kind, Remedy: remedy, Err: err}
}
