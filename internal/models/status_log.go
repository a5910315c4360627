package models

import "time"

// Reachability events recorded in the status log.
const (
	EventOnline  = "online"
	EventOffline = "offline"
)

// StatusLogEntry is one online/offline transition of a board.
type StatusLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	BoardName string    `json:"board_name"`
	Event     string    `json:"event"`   // online | offline
	Details   string    `json:"details"` // e.g. "OTA:OK WEB:FAIL API:FAIL"
}
