package types

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// EventID represents a finding lifecycle event identifier (UUID v7)
type EventID string

// EventType represents a finding lifecycle transition
type EventType string

const (
	EventTypeDiscovered EventType = "discovered"
	EventTypeResolved   EventType = "resolved"
	EventTypeReopened   EventType = "reopened"
)

// String returns the string representation of the event type
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the event type is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeDiscovered, EventTypeResolved, EventTypeReopened:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form used in the changelog
// ("Discovered", "Resolved", "Reopened")
func (t EventType) Label() string {
	switch t {
	case EventTypeDiscovered:
		return "Discovered"
	case EventTypeResolved:
		return "Resolved"
	case EventTypeReopened:
		return "Reopened"
	default:
		return string(t)
	}
}

// FindingStatus represents the current lifecycle state of a finding
type FindingStatus string

const (
	FindingStatusOpen     FindingStatus = "open"
	FindingStatusResolved FindingStatus = "resolved"
)

// String returns the string representation of the status
func (s FindingStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s FindingStatus) IsValid() bool {
	switch s {
	case FindingStatusOpen, FindingStatusResolved:
		return true
	default:
		return false
	}
}

// NewEventID generates a new UUID v7 event ID. Event IDs embed a millisecond
// timestamp in the leading bits, so IDs generated later compare lexically
// greater and events sort chronologically by ID.
func NewEventID() EventID {
	// UUID v7: timestamp (48 bits) + version (4 bits) + random (12 bits) + variant (2 bits) + random (62 bits)

	// Get current timestamp in milliseconds
	now := time.Now().UnixMilli()

	// Create 16 byte array for UUID
	uuid := make([]byte, 16)

	// Set timestamp (48 bits = 6 bytes)
	uuid[0] = byte(now >> 40)
	uuid[1] = byte(now >> 32)
	uuid[2] = byte(now >> 24)
	uuid[3] = byte(now >> 16)
	uuid[4] = byte(now >> 8)
	uuid[5] = byte(now)

	// Fill remaining bytes with random data
	if _, err := rand.Read(uuid[6:]); err != nil {
		// Fallback to timestamp-based generation if crypto/rand fails
		for i := 6; i < 16; i++ {
			shift := 8 * (i - 6)
			if shift < 64 { // Prevent shift overflow
				uuid[i] = byte(now >> shift)
			} else {
				uuid[i] = 0
			}
		}
	}

	// Set version (7) in the upper 4 bits of byte 6
	uuid[6] = (uuid[6] & 0x0f) | 0x70

	// Set variant (10) in the upper 2 bits of byte 8
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	// Convert to hex string with dashes
	return EventID(formatUUID(uuid))
}

// formatUUID formats a 16-byte array as a UUID string
func formatUUID(uuid []byte) string {
	return hex.EncodeToString(uuid[0:4]) + "-" +
		hex.EncodeToString(uuid[4:6]) + "-" +
		hex.EncodeToString(uuid[6:8]) + "-" +
		hex.EncodeToString(uuid[8:10]) + "-" +
		hex.EncodeToString(uuid[10:16])
}

// String returns the string representation of the event ID
func (id EventID) String() string {
	return string(id)
}

// Validate checks if the event ID is valid (non-empty)
func (id EventID) Validate() error {
	if id == "" {
		return goerr.New("event ID cannot be empty")
	}
	return nil
}
