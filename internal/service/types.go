package service

import (
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ports"
)

// ScanResult is the outcome of probing one board.
type ScanResult struct {
	Name       string                   `json:"name"`
	ID         int                      `json:"id"`
	Type       models.BoardType         `json:"type"`
	Host       string                   `json:"host"`
	Hostname   string                   `json:"hostname"`
	Ports      ports.Triple             `json:"ports"`
	Online     bool                     `json:"online"`
	OTAOnline  bool                     `json:"ota_online"`
	WebOnline  bool                     `json:"web_online"`
	APIOnline  bool                     `json:"api_available"`
	MACAddress string                   `json:"mac_address,omitempty"`
	LastSeen   *time.Time               `json:"last_seen,omitempty"`
	Sensors    map[string]models.Sensor `json:"sensors,omitempty"`
	DeviceInfo map[string]models.Value  `json:"device_info,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Details renders the per-port summary stored with status log entries.
func (r ScanResult) Details() string {
	return "OTA:" + okFail(r.OTAOnline) + " WEB:" + okFail(r.WebOnline) + " API:" + okFail(r.APIOnline)
}

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

// Candidate is a board found by discovery.
type Candidate struct {
	ID      int          `json:"id"`
	Host    string       `json:"host"`
	OTAPort int          `json:"ota_port"`
	Ports   ports.Triple `json:"ports"`
	IsNew   bool         `json:"is_new"`
}

// DiscoveryReport summarizes one discovery sweep.
type DiscoveryReport struct {
	Discovered     []Candidate `json:"discovered"`
	TotalFound     int         `json:"total_found"`
	NewBoards      int         `json:"new_boards"`
	AutoRegistered []string    `json:"auto_registered"`
}

// FlashRequest names the board and exactly one firmware source.
type FlashRequest struct {
	BoardName    string
	FileName     string
	Firmware     []byte
	BuildID      string
	FirmwarePath string
}

// BuildRequest carries the sources of one compilation.
type BuildRequest struct {
	ProjectType models.ProjectType
	BoardType   string
	FileName    string
	Source      []byte
	Libraries   []SourceFile
	Environment string
}

// SourceFile is an auxiliary uploaded file.
type SourceFile struct {
	Name string
	Data []byte
}

// LogFilter selects status log entries.
type LogFilter struct {
	Limit int
	Board string
}
