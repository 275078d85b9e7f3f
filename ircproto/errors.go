package ircproto

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorKind classifies transport failures for logs and metrics. Every kind
// is retryable: the session reconnects regardless of the kind.
type ErrorKind int

const (
	// ErrorKindUnknown is an error that matches no known pattern.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindRefused is a connection refused by the peer.
	ErrorKindRefused
	// ErrorKindReset is a connection reset or broken pipe.
	ErrorKindReset
	// ErrorKindTimeout is a dial, read or write timeout.
	ErrorKindTimeout
	// ErrorKindDNS is a name resolution failure.
	ErrorKindDNS
	// ErrorKindEOF is an orderly close by the peer.
	ErrorKindEOF
	// ErrorKindClosed is a use of a connection closed locally.
	ErrorKindClosed
	// ErrorKindUnreachable is a missing route to the host or network.
	ErrorKindUnreachable
)

// String returns a stable, lowercase name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRefused:
		return "refused"
	case ErrorKindReset:
		return "reset"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindDNS:
		return "dns"
	case ErrorKindEOF:
		return "eof"
	case ErrorKindClosed:
		return "closed"
	case ErrorKindUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ClassifyTransportError maps a transport error onto an ErrorKind.
//
// Typed errors (errno values, net.Error timeouts, *net.DNSError, io.EOF,
// net.ErrClosed) are checked first; the message is then matched against
// well-known patterns so wrapped or platform-specific errors still land in
// a useful bucket.
func ClassifyTransportError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorKindEOF
	case errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
		return ErrorKindClosed
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorKindRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return ErrorKindReset
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ErrorKindUnreachable
	case errors.As(err, &dnsErr):
		return ErrorKindDNS
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	lower := strings.ToLower(err.Error())
	patterns := []struct {
		kind     ErrorKind
		contains []string
	}{
		{ErrorKindRefused, []string{"connection refused"}},
		{ErrorKindReset, []string{"connection reset", "broken pipe", "connection aborted"}},
		{ErrorKindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
		{ErrorKindDNS, []string{"no such host", "temporary failure in name resolution", "server misbehaving"}},
		{ErrorKindUnreachable, []string{"no route to host", "network is unreachable", "network unreachable"}},
		{ErrorKindClosed, []string{"use of closed network connection"}},
		{ErrorKindEOF, []string{"eof"}},
	}
	for _, p := range patterns {
		for _, s := range p.contains {
			if strings.Contains(lower, s) {
				return p.kind
			}
		}
	}
	return ErrorKindUnknown
}
