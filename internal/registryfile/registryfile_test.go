package registryfile

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mdario971/cactus-flasher/internal/models"
)

const seed = `boards:
  cactus-sentinel:
    id: 88
    type: esp32
    hostname: null
    mac_address: A4:CF:12:0B:3C:7D
    last_seen: "2026-03-01T10:00:00Z"
    sensors:
      - id: temperature
        name: Temperature
        state: 22.5
        unit: °C
    device_info:
      esphome_version: 2024.6.1
  alpha:
    id: 3
    host: 10.0.0.3
    web_username: admin
    web_password: pw
    api_key: k3y
`

func TestLoad_KeepsDocumentOrder(t *testing.T) {
	boards, err := Load(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := []models.Board{
		{
			Name:       "cactus-sentinel",
			ID:         88,
			Type:       models.BoardESP32,
			MACAddress: "A4:CF:12:0B:3C:7D",
			LastSeen:   &seen,
			Sensors: map[string]models.Sensor{
				"temperature": {Name: "Temperature", State: models.Number(22.5), Unit: "°C"},
			},
			DeviceInfo: map[string]models.Value{"esphome_version": models.String("2024.6.1")},
		},
		{
			Name:        "alpha",
			ID:          3,
			Host:        "10.0.0.3",
			WebUsername: "admin",
			WebPassword: "pw",
			APIKey:      "k3y",
		},
	}
	if diff := cmp.Diff(want, boards); diff != "" {
		t.Fatalf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EmptyDocuments(t *testing.T) {
	for _, doc := range []string{"", "boards:\n", "boards: {}\n", "other: 1\n"} {
		boards, err := Load(strings.NewReader(doc))
		if err != nil || len(boards) != 0 {
			t.Errorf("Load(%q) = %v, %v", doc, boards, err)
		}
	}
	if _, err := Load(strings.NewReader("boards: [1, 2]\n")); err == nil {
		t.Error("a list of boards must be rejected")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	boards, err := LoadFile(filepath.Join(t.TempDir(), "boards.yaml"))
	if err != nil || boards != nil {
		t.Fatalf("LoadFile = %v, %v", boards, err)
	}
}

func TestEncode_RoundTripAndSecrets(t *testing.T) {
	boards, err := Load(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	withSecrets, err := Marshal(boards, EncodeOptions{IncludeSecrets: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Load(strings.NewReader(string(withSecrets)))
	if err != nil {
		t.Fatalf("Load(Marshal): %v", err)
	}
	if diff := cmp.Diff(boards, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	public, err := Marshal(boards, EncodeOptions{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(public)
	if strings.Contains(out, "web_password") || strings.Contains(out, "k3y") {
		t.Fatalf("secrets leaked:\n%s", out)
	}
	if strings.Index(out, "cactus-sentinel:") > strings.Index(out, "alpha:") {
		t.Fatalf("order not kept:\n%s", out)
	}
}
