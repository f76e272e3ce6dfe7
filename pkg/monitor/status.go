package monitor

import "time"

// MemberReport is one member's line in a Status.
type MemberReport struct {
    Name       string  `json:"name"`
    State      string  `json:"state"`
    LagSeconds float64 `json:"lagSeconds"`
    Behind     bool    `json:"behind"`
}

// Status is a JSON-serializable view of the most recent cycle, served by the
// status endpoints and printed by the check command.
type Status struct {
    // Healthy is true once a cycle completed and found a primary.
    Healthy      bool           `json:"healthy"`
    Primary      string         `json:"primary,omitempty"`
    LastCycle    time.Time      `json:"lastCycle,omitempty"`
    LagThreshold float64        `json:"lagThresholdSeconds"`
    Members      []MemberReport `json:"members,omitempty"`
    // Violations holds the alert lines of the last cycle, if any.
    Violations []string `json:"violations,omitempty"`
}
