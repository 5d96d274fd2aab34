// Package header parses and formats the versioned ASCII header lines that
// carry protocol metadata for RPC requests/replies and events.
package header

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const logPrefix = "header:Parse"

// Well-known header keys. The concrete strings are part of the wire
// contract and must be stable across nodes.
const (
	KeyRPC   = "X-RPC"
	KeyEvent = "X-Event"
)

// MessageType is the RPC message type token. Only Single is implemented;
// batched RPC is explicitly unsupported.
type MessageType string

const (
	Single MessageType = "Single"
)

// supportedRange accepts any 1.x line at or above 1.1, so a future minor
// protocol revision doesn't require touching the dispatch code. Rejects
// major version bumps.
var supportedRange = mustConstraint(">=1.1.0, <2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("%s - invalid built-in constraint %q: %v", logPrefix, s, err))
	}
	return c
}

// RPCHeader is the parsed form of an "X-RPC" header value:
// "<version> <serializer> <message-type>".
type RPCHeader struct {
	Version    string
	Serializer string
	Type       MessageType
}

// EventHeader is the parsed form of an "X-Event" header value:
// "<version> <serializer>".
type EventHeader struct {
	Version    string
	Serializer string
}

// ErrUnsupportedVersion is returned when a header's version token doesn't
// satisfy the supported range.
var ErrUnsupportedVersion = fmt.Errorf("%s - unsupported protocol version", logPrefix)

// ParseRPC parses an "X-RPC" header value.
func ParseRPC(line []byte) (RPCHeader, error) {
	parts := strings.Fields(string(line))
	if len(parts) != 3 {
		return RPCHeader{}, fmt.Errorf("%s - malformed RPC header %q: expected 3 fields", logPrefix, line)
	}
	if err := checkVersion(parts[0]); err != nil {
		return RPCHeader{}, err
	}
	return RPCHeader{Version: parts[0], Serializer: parts[1], Type: MessageType(parts[2])}, nil
}

// ParseEvent parses an "X-Event" header value.
func ParseEvent(line []byte) (EventHeader, error) {
	parts := strings.Fields(string(line))
	if len(parts) != 2 {
		return EventHeader{}, fmt.Errorf("%s - malformed event header %q: expected 2 fields", logPrefix, line)
	}
	if err := checkVersion(parts[0]); err != nil {
		return EventHeader{}, err
	}
	return EventHeader{Version: parts[0], Serializer: parts[1]}, nil
}

// checkVersion validates a "<major>.<minor>" wire version token against
// the supported range. semver requires three components, so a ".0" patch
// is appended before parsing.
func checkVersion(version string) error {
	v, err := semver.NewVersion(version + ".0")
	if err != nil {
		return fmt.Errorf("%s - invalid version token %q: %w", logPrefix, version, err)
	}
	if !supportedRange.Check(v) {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	return nil
}

// FormatRPC renders an "X-RPC" header value for the given serializer and
// message type, always at the current wire version.
func FormatRPC(serializerName string, msgType MessageType) []byte {
	return []byte(fmt.Sprintf("1.1 %s %s", serializerName, msgType))
}

// FormatEvent renders an "X-Event" header value for the given serializer,
// always at the current wire version.
func FormatEvent(serializerName string) []byte {
	return []byte(fmt.Sprintf("1.1 %s", serializerName))
}
