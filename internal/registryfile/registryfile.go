// Package registryfile reads and writes the boards.yaml registry document:
//
//	boards:
//	  cactus-sentinel:
//	    id: 88
//	    type: esp32
//	    host: 192.168.1.40
//
// Board order in the document is preserved in both directions.
package registryfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mdario971/cactus-flasher/internal/models"
)

type entry struct {
	ID          int                     `yaml:"id"`
	Type        string                  `yaml:"type,omitempty"`
	Host        string                  `yaml:"host,omitempty"`
	Hostname    string                  `yaml:"hostname,omitempty"`
	MACAddress  string                  `yaml:"mac_address,omitempty"`
	WebUsername string                  `yaml:"web_username,omitempty"`
	WebPassword string                  `yaml:"web_password,omitempty"`
	APIKey      string                  `yaml:"api_key,omitempty"`
	LastSeen    string                  `yaml:"last_seen,omitempty"`
	Sensors     []sensor                `yaml:"sensors,omitempty"`
	DeviceInfo  map[string]models.Value `yaml:"device_info,omitempty"`
}

type sensor struct {
	ID    string       `yaml:"id"`
	Name  string       `yaml:"name,omitempty"`
	State models.Value `yaml:"state"`
	Unit  string       `yaml:"unit,omitempty"`
}

// LoadFile reads path. A missing file is an empty registry.
func LoadFile(path string) ([]models.Board, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	boards, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return boards, nil
}

// Load decodes a registry document in document order.
func Load(r io.Reader) ([]models.Board, error) {
	var doc struct {
		Boards yaml.Node `yaml:"boards"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	node := doc.Boards
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("decode registry: line %d: boards must be a mapping", node.Line)
	}

	boards := make([]models.Board, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var e entry
		if err := node.Content[i+1].Decode(&e); err != nil {
			return nil, fmt.Errorf("decode board %q: %w", name, err)
		}
		boards = append(boards, e.board(name))
	}
	return boards, nil
}

func (e entry) board(name string) models.Board {
	b := models.Board{
		Name:        name,
		ID:          e.ID,
		Type:        models.BoardType(e.Type),
		Host:        e.Host,
		Hostname:    e.Hostname,
		MACAddress:  e.MACAddress,
		WebUsername: e.WebUsername,
		WebPassword: e.WebPassword,
		APIKey:      e.APIKey,
		DeviceInfo:  e.DeviceInfo,
	}
	if ts, err := time.Parse(time.RFC3339, e.LastSeen); err == nil {
		b.LastSeen = &ts
	}
	if len(e.Sensors) > 0 {
		b.Sensors = make(map[string]models.Sensor, len(e.Sensors))
		for _, s := range e.Sensors {
			b.Sensors[s.ID] = models.Sensor{Name: s.Name, State: s.State, Unit: s.Unit}
		}
	}
	return b
}

// EncodeOptions controls what Encode writes.
type EncodeOptions struct {
	// IncludeSecrets writes web passwords and API keys.
	IncludeSecrets bool
}

// Encode writes boards as a registry document, in the given order.
func Encode(w io.Writer, boards []models.Board, opts EncodeOptions) error {
	list := &yaml.Node{Kind: yaml.MappingNode}
	for _, b := range boards {
		e := entry{
			ID:          b.ID,
			Type:        string(b.Type),
			Host:        b.Host,
			Hostname:    b.Hostname,
			MACAddress:  b.MACAddress,
			WebUsername: b.WebUsername,
			DeviceInfo:  b.DeviceInfo,
		}
		if opts.IncludeSecrets {
			e.WebPassword = b.WebPassword
			e.APIKey = b.APIKey
		}
		if b.LastSeen != nil {
			e.LastSeen = b.LastSeen.UTC().Format(time.RFC3339)
		}
		ids := make([]string, 0, len(b.Sensors))
		for id := range b.Sensors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			s := b.Sensors[id]
			e.Sensors = append(e.Sensors, sensor{ID: id, Name: s.Name, State: s.State, Unit: s.Unit})
		}

		var value yaml.Node
		if err := value.Encode(e); err != nil {
			return fmt.Errorf("encode board %q: %w", b.Name, err)
		}
		list.Content = append(list.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: b.Name}, &value)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "boards"},
		list,
	}}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Marshal is Encode into a byte slice.
func Marshal(boards []models.Board, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, boards, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
