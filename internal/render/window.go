package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// WindowNotSpecified is rendered when no delivery window was requested.
	WindowNotSpecified = "Non spécifié"
	// WindowInvalid is rendered when the stored window cannot be decoded.
	WindowInvalid = "Format invalide"

	maxWindowDepth = 3
)

// Slot is one requested delivery/pickup slot.
type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// FormatDeliveryWindow normalizes every historical encoding of a delivery
// window into one readable line: a list of slots, a single slot object, or a
// JSON string holding either (possibly encoded twice). It never fails:
// empty input yields WindowNotSpecified, undecodable input WindowInvalid.
func FormatDeliveryWindow(v any) string {
	return formatWindow(v, 0)
}

func formatWindow(v any, depth int) string {
	if depth > maxWindowDepth {
		return WindowInvalid
	}
	switch x := v.(type) {
	case nil:
		return WindowNotSpecified
	case string:
		return formatWindowJSON([]byte(x), depth)
	case []byte:
		return formatWindowJSON(x, depth)
	case json.RawMessage:
		return formatWindowJSON(x, depth)
	case Slot:
		return formatSlots([]Slot{x})
	case *Slot:
		if x == nil {
			return WindowNotSpecified
		}
		return formatSlots([]Slot{*x})
	case []Slot:
		return formatSlots(x)
	case map[string]any:
		s, ok := slotFromMap(x)
		if !ok {
			return WindowInvalid
		}
		return formatSlots([]Slot{s})
	case []any:
		slots := make([]Slot, 0, len(x))
		for _, el := range x {
			m, ok := el.(map[string]any)
			if !ok {
				return WindowInvalid
			}
			s, ok := slotFromMap(m)
			if !ok {
				return WindowInvalid
			}
			slots = append(slots, s)
		}
		return formatSlots(slots)
	}
	return WindowInvalid
}

func formatWindowJSON(raw []byte, depth int) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` || s == "[]" {
		return WindowNotSpecified
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return WindowInvalid
	}
	if _, isString := decoded.(string); isString && strings.TrimSpace(decoded.(string)) == "" {
		return WindowNotSpecified
	}
	return formatWindow(decoded, depth+1)
}

// slotFromMap accepts camelCase and snake_case keys.
func slotFromMap(m map[string]any) (Slot, bool) {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				return strings.TrimSpace(fmt.Sprint(v))
			}
		}
		return ""
	}
	s := Slot{
		Date:      pick("date", "day"),
		StartTime: pick("startTime", "start_time", "start"),
		EndTime:   pick("endTime", "end_time", "end"),
	}
	if s.Date == "" && s.StartTime == "" && s.EndTime == "" && len(m) > 0 {
		return s, false
	}
	return s, true
}

func formatSlots(slots []Slot) string {
	caser := cases.Title(language.French)
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		date := strings.TrimSpace(s.Date)
		if date != "" {
			date = caser.String(date)
		}
		start, end := strings.TrimSpace(s.StartTime), strings.TrimSpace(s.EndTime)

		var hours string
		switch {
		case start != "" && end != "":
			hours = start + " - " + end
		case start != "":
			hours = "à partir de " + start
		case end != "":
			hours = "jusqu'à " + end
		}

		line := strings.TrimSpace(strings.Join([]string{date, hours}, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return WindowNotSpecified
	}
	return strings.Join(out, ", ")
}
