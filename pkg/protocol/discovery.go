package protocol

import (
	"encoding/binary"
	"fmt"
)

// DiscoveryProbe returns the 4-byte probe a robot broadcasts to find a
// controller.
func DiscoveryProbe() []byte {
	return []byte{0, 0, 0, 1}
}

// IsDiscoveryProbe reports whether b is a discovery probe.
func IsDiscoveryProbe(b []byte) bool {
	return len(b) == 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1
}

// KeepaliveProbe returns the empty probe a connected robot sends to its
// controller. Controllers answer with Pong.
func KeepaliveProbe() []byte {
	return []byte{0, 0, 0, 0}
}

// IsKeepaliveProbe reports whether b is a keepalive probe.
func IsKeepaliveProbe(b []byte) bool {
	return len(b) == 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

// DiscoveryReply returns the controller's answer to a probe, announcing
// the session port.
func DiscoveryReply(port uint16) []byte {
	b := []byte{0, 0, 0, 0}
	binary.BigEndian.PutUint16(b[2:], port)
	return b
}

// ParseDiscoveryReply extracts the session port from a discovery reply.
func ParseDiscoveryReply(b []byte) (uint16, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("discovery reply: %w", ErrShortPayload)
	}
	port := binary.BigEndian.Uint16(b[2:4])
	if port == 0 {
		return 0, ErrNoPort
	}
	return port, nil
}
