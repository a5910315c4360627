package models

import "time"

// Flash operation states.
const (
	FlashPending   = "pending"
	FlashUploading = "uploading"
	FlashSuccess   = "success"
	FlashFailed    = "failed"
)

// Build operation states.
const (
	BuildPending  = "pending"
	BuildBuilding = "building"
	BuildSuccess  = "success"
	BuildFailed   = "failed"
)

// ProjectType selects the external toolchain of a build.
type ProjectType string

const (
	ProjectESPHome    ProjectType = "esphome"
	ProjectArduino    ProjectType = "arduino"
	ProjectPlatformIO ProjectType = "platformio"
)

// FlashOperation is the ephemeral state of one firmware upload.
type FlashOperation struct {
	FlashID   string    `json:"flash_id"`
	BoardName string    `json:"board_name"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Failure   string    `json:"failure,omitempty"` // unreachable | rejected | timeout | integrity-mismatch
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the operation can no longer change.
func (op FlashOperation) Terminal() bool {
	return op.Status == FlashSuccess || op.Status == FlashFailed
}

// BuildOperation is the ephemeral state of one compilation job.
type BuildOperation struct {
	BuildID      string      `json:"build_id"`
	ProjectType  ProjectType `json:"project_type"`
	BoardType    string      `json:"board_type,omitempty"`
	Status       string      `json:"status"`
	Message      string      `json:"message,omitempty"`
	FirmwarePath string      `json:"firmware_path,omitempty"`
	Logs         string      `json:"logs,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (op BuildOperation) Terminal() bool {
	return op.Status == BuildSuccess || op.Status == BuildFailed
}
