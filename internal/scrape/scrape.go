// Package scrape extracts board metadata from the pages and event streams served
// by a board's web server.
package scrape

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// MaxEventBytes bounds how much of an event stream is read before giving up.
const MaxEventBytes = 8192

// Entity is one sensor-like element found on a board.
type Entity struct {
	ID    string
	Name  string
	State models.Value
	Unit  string
}

// Sensor converts e to the registry representation.
func (e Entity) Sensor() models.Sensor {
	return models.Sensor{Name: e.Name, State: e.State, Unit: e.Unit}
}

var (
	macPattern  = regexp.MustCompile(`([0-9A-Fa-f]{2}:[0-9A-Fa-f]{2}:[0-9A-Fa-f]{2}:[0-9A-Fa-f]{2}:[0-9A-Fa-f]{2}:[0-9A-Fa-f]{2})`)
	jsonPattern = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"\s*,\s*"state"\s*:\s*"([^"]*)"`)

	versionPattern  = regexp.MustCompile(`(?i)esphome\s+(?:version\s+)?v?(\d+\.\d+(?:\.\d+)?)`)
	platformPattern = regexp.MustCompile(`(?i)\b(ESP32-S2|ESP32-S3|ESP32-C3|ESP32|ESP8266)\b`)
)

var entityPrefixes = []string{"sensor-", "number-", "text_sensor-", "binary_sensor-"}

var headerCells = map[string]bool{
	"name": true, "entity": true, "sensor": true, "state": true, "value": true, "type": true,
}

// MAC returns the first colon-separated MAC address on the page, upper-cased.
func MAC(page string) string {
	m := macPattern.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// Sensors finds entities on a web server page. Elements whose id carries an entity
// prefix come first, then JSON state objects embedded in scripts, then two-column
// table rows. The first occurrence of an id wins.
func Sensors(page string) []Entity {
	var (
		out  []Entity
		seen = map[string]bool{}
	)
	add := func(id, name, text string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		state, unit := ParseStateUnit(text)
		out = append(out, Entity{ID: id, Name: name, State: models.Infer(state), Unit: unit})
	}

	tagged, rows := walk(page)
	for _, kv := range tagged {
		add(kv[0], titleName(kv[0]), kv[1])
	}
	for _, m := range jsonPattern.FindAllStringSubmatch(page, -1) {
		id := strings.TrimSpace(m[1])
		add(id, titleName(id), strings.TrimSpace(m[2]))
	}
	for _, row := range rows {
		name, text := row[0], row[1]
		if headerCells[strings.ToLower(name)] {
			continue
		}
		state, _ := ParseStateUnit(text)
		if state == "" || state == "N/A" || state == "n/a" || state == "-" {
			continue
		}
		add(strings.ReplaceAll(strings.ToLower(name), " ", "_"), name, text)
	}
	return out
}

// walk tokenizes page once and returns (id, text) pairs of entity elements and the
// first two cells of every table row.
func walk(page string) (tagged, rows [][2]string) {
	z := html.NewTokenizer(strings.NewReader(page))

	var (
		pending string
		inRow   bool
		inCell  bool
		cell    strings.Builder
		cells   []string
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tagged, rows
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			pending = entityID(tok)
			switch tok.DataAtom {
			case atom.Tr:
				inRow, cells = true, nil
			case atom.Td:
				if inRow {
					inCell = true
					cell.Reset()
				}
			}
		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if pending != "" && text != "" {
				tagged = append(tagged, [2]string{pending, text})
			}
			pending = ""
			if inCell {
				cell.WriteString(text)
			}
		case html.EndTagToken:
			pending = ""
			switch z.Token().DataAtom {
			case atom.Td:
				if inCell {
					cells = append(cells, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case atom.Tr:
				if inRow && len(cells) >= 2 && cells[0] != "" && cells[1] != "" {
					rows = append(rows, [2]string{cells[0], cells[1]})
				}
				inRow = false
			}
		}
	}
}

func entityID(tok html.Token) string {
	var id, class string
	for _, a := range tok.Attr {
		switch a.Key {
		case "id":
			id = strings.TrimSpace(a.Val)
		case "class":
			class = a.Val
		}
	}
	if id == "" {
		return ""
	}
	lower := strings.ToLower(id)
	for _, p := range entityPrefixes {
		if strings.HasPrefix(lower, p) {
			return id[len(p):]
		}
	}
	if strings.Contains(strings.ToLower(class), "state") {
		return id
	}
	return ""
}

// Events parses the first MaxEventBytes of a server-sent event stream.
// Each "data:" line holding a JSON object with an "id" becomes an entity.
func Events(r io.Reader) []Entity {
	var out []Entity
	sc := bufio.NewScanner(io.LimitReader(r, MaxEventBytes))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &data); err != nil {
			continue
		}
		id, ok := data["id"].(string)
		if !ok || id == "" {
			continue
		}
		raw, ok := data["state"]
		if !ok {
			raw = data["value"]
		}
		text := ""
		if raw != nil {
			text = fmt.Sprint(raw)
		}
		state, unit := ParseStateUnit(text)
		out = append(out, Entity{ID: id, Name: titleName(id), State: models.Infer(state), Unit: unit})
	}
	return out
}

// DeviceInfo harvests descriptive facts from a web server page.
func DeviceInfo(page string) map[string]models.Value {
	info := map[string]models.Value{}

	if title := pageTitle(page); title != "" {
		info["title"] = models.String(title)
	}
	if m := versionPattern.FindStringSubmatch(page); m != nil {
		info["esphome_version"] = models.String(m[1])
	}
	if m := platformPattern.FindStringSubmatch(page); m != nil {
		info["platform"] = models.String(strings.ToUpper(m[1]))
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

func pageTitle(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if z.Token().DataAtom == atom.Title && z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
		}
	}
}

var unitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^([\d.,-]+)\s*(%)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(\x{00b0}[CcFf])\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(C|F|K)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(hPa|Pa|mbar|bar)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(lx|lux)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(dB|dBm)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(V|mV|A|mA|W|kW|kWh|Wh)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(ppm|ppb|ug/m3|mg/m3)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(mm|cm|m|km|in|ft)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*(s|ms|min|h)\s*$`),
	regexp.MustCompile(`^([\d.,-]+)\s*([a-zA-Z/]+)\s*$`),
}

// ParseStateUnit splits "22.5 °C" into ("22.5", "°C"). Text without a recognised
// unit is returned unchanged with an empty unit.
func ParseStateUnit(text string) (state, unit string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	for _, p := range unitPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], m[2]
		}
	}
	return text, ""
}

// titleName turns "living_room-temp" into "Living Room Temp".
func titleName(id string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(id))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
