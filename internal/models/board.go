package models

import "time"

// BoardType is the microcontroller variant of a board.
type BoardType string

const (
	BoardESP32   BoardType = "esp32"
	BoardESP32S2 BoardType = "esp32s2"
	BoardESP32S3 BoardType = "esp32s3"
	BoardESP32C3 BoardType = "esp32c3"
	BoardESP8266 BoardType = "esp8266"
)

// Valid reports whether t is one of the supported variants.
func (t BoardType) Valid() bool {
	switch t {
	case BoardESP32, BoardESP32S2, BoardESP32S3, BoardESP32C3, BoardESP8266:
		return true
	}
	return false
}

// Sensor is one entity scraped from a board's web server.
type Sensor struct {
	Name  string `json:"name" yaml:"name"`
	State Value  `json:"state" yaml:"state"`
	Unit  string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Board is a registered device. Ports are derived from ID and never stored.
type Board struct {
	Name        string            `json:"name"`
	ID          int               `json:"id"`
	Type        BoardType         `json:"type"`
	Host        string            `json:"host,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	MACAddress  string            `json:"mac_address,omitempty"`
	WebUsername string            `json:"web_username,omitempty"`
	WebPassword string            `json:"-"`
	APIKey      string            `json:"-"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
	Sensors     map[string]Sensor `json:"sensors,omitempty"`
	DeviceInfo  map[string]Value  `json:"device_info,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// HasWebCredentials reports whether HTTP Basic auth can be used against the web server.
func (b Board) HasWebCredentials() bool {
	return b.WebUsername != "" && b.WebPassword != ""
}

// BoardCreate is the registration request of a board.
type BoardCreate struct {
	Name        string    `json:"name" binding:"required"`
	ID          int       `json:"id" binding:"required"`
	Type        BoardType `json:"type"`
	Host        string    `json:"host,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	MACAddress  string    `json:"mac_address,omitempty"`
	WebUsername string    `json:"web_username,omitempty"`
	WebPassword string    `json:"web_password,omitempty"`
	APIKey      string    `json:"api_key,omitempty"`
}

// BoardUpdate carries the optional fields of a board edit. Nil means "leave as is".
type BoardUpdate struct {
	Name        *string    `json:"name,omitempty"`
	Type        *BoardType `json:"type,omitempty"`
	Host        *string    `json:"host,omitempty"`
	Hostname    *string    `json:"hostname,omitempty"`
	MACAddress  *string    `json:"mac_address,omitempty"`
	WebUsername *string    `json:"web_username,omitempty"`
	WebPassword *string    `json:"web_password,omitempty"`
	APIKey      *string    `json:"api_key,omitempty"`
}

// ScanUpdate is the metadata a successful probe writes back to the registry.
type ScanUpdate struct {
	MACAddress string
	Sensors    map[string]Sensor
	DeviceInfo map[string]Value
	LastSeen   time.Time
}

// BoardView is a board enriched with its derived network coordinates.
type BoardView struct {
	Name          string            `json:"name"`
	ID            int               `json:"id"`
	Type          BoardType         `json:"type"`
	Host          string            `json:"host"`
	Hostname      string            `json:"hostname"`
	WebserverPort int               `json:"webserver_port"`
	OTAPort       int               `json:"ota_port"`
	APIPort       int               `json:"api_port"`
	Online        bool              `json:"online"`
	MACAddress    string            `json:"mac_address,omitempty"`
	LastSeen      *time.Time        `json:"last_seen,omitempty"`
	Sensors       map[string]Sensor `json:"sensors,omitempty"`
	DeviceInfo    map[string]Value  `json:"device_info,omitempty"`
}
