// Package ports derives the well-known network coordinates of a board from its numeric id.
package ports

import (
	"fmt"
	"strings"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// Valid board id range and the base of each derived port.
const (
	MinID = 1
	MaxID = 99

	webserverBase = 8000
	otaBase       = 8200
	apiBase       = 6000
)

// recognized name prefixes, checked in order; at most one is stripped.
var namePrefixes = []string{"cactus-", "esp32-", "esp-"}

// Triple is the set of ports a board with a given id listens on.
type Triple struct {
	Webserver int `json:"webserver"`
	OTA       int `json:"ota"`
	API       int `json:"api"`
}

// ValidID reports whether id is inside [MinID, MaxID].
func ValidID(id int) bool {
	return id >= MinID && id <= MaxID
}

// Resolve returns the port triple for id.
func Resolve(id int) (Triple, error) {
	if !ValidID(id) {
		return Triple{}, models.Invalid("id", "%d is outside [%d,%d]", id, MinID, MaxID)
	}
	return Triple{
		Webserver: webserverBase + id,
		OTA:       otaBase + id,
		API:       apiBase + id,
	}, nil
}

// IDFromOTAPort is the inverse of Resolve for the OTA port.
func IDFromOTAPort(port int) (int, bool) {
	id := port - otaBase
	return id, ValidID(id)
}

// Hostname returns custom when set, otherwise "{short}-{id:02d}.{ddnsHost}".
func Hostname(name string, id int, custom, ddnsHost string) string {
	if custom != "" {
		return custom
	}
	return fmt.Sprintf("%s-%02d.%s", ShortName(name), id, ddnsHost)
}

// ShortName strips the first recognized prefix from name.
func ShortName(name string) string {
	for _, p := range namePrefixes {
		if strings.HasPrefix(name, p) {
			return name[len(p):]
		}
	}
	return name
}
