// Package address parses and formats the "namespace:routing-key" addresses
// used to identify services and events on the broker.
package address

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const logPrefix = "address:Parse"

// ServiceAddress identifies a service's broker resources: the topic
// exchange (Namespace) and the binding key within it (RoutingKey).
type ServiceAddress struct {
	Namespace  string
	RoutingKey string
}

// EventAddress identifies a topic filter on an event exchange. Same shape
// as ServiceAddress but kept as a distinct type so the two cannot be
// confused at call sites.
type EventAddress struct {
	Namespace  string
	RoutingKey string
}

// String renders the address in wire form: "namespace:routing-key".
func (a ServiceAddress) String() string {
	return a.Namespace + ":" + a.RoutingKey
}

// String renders the address in wire form: "namespace:routing-key".
func (a EventAddress) String() string {
	return a.Namespace + ":" + a.RoutingKey
}

// ParseService parses a "namespace:routing-key" string into a ServiceAddress.
func ParseService(s string) (ServiceAddress, error) {
	ns, rk, err := split(s)
	if err != nil {
		return ServiceAddress{}, err
	}
	return ServiceAddress{Namespace: ns, RoutingKey: rk}, nil
}

// ParseEvent parses a "namespace:routing-key" string into an EventAddress.
func ParseEvent(s string) (EventAddress, error) {
	ns, rk, err := split(s)
	if err != nil {
		return EventAddress{}, err
	}
	return EventAddress{Namespace: ns, RoutingKey: rk}, nil
}

// RandomFanoutSuffix generates the 20-byte lowercase-hex suffix appended
// to a Fanout queue name, so every subscriber of the same address gets an
// independently named queue.
func RandomFanoutSuffix() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s - generate fanout suffix: %w", logPrefix, err)
	}
	return hex.EncodeToString(buf), nil
}

// split implements the address grammar: one colon separator, both sides
// non-empty. Anything beyond this single separator (escaping, multi-segment
// namespaces) is out of scope.
func split(s string) (string, string, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("%s - invalid address %q: expected \"namespace:routing-key\"", logPrefix, s)
	}
	return s[:idx], s[idx+1:], nil
}
