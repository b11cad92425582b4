package speedscope

import (
	"fmt"
)

const (
	ValueUnitNanoseconds ValueUnit = "nanoseconds"

	EventTypeOpenFrame  EventType = "O"
	EventTypeCloseFrame EventType = "C"

	ProfileTypeEvented ProfileType = "evented"

	Schema = "https://www.speedscope.app/file-format-schema.json"
)

type (
	Frame struct {
		File          string `json:"file,omitempty"`
		IsApplication bool   `json:"is_application"`
		Line          uint32 `json:"line,omitempty"`
		Name          string `json:"name"`
	}

	Event struct {
		Type  EventType `json:"type"`
		Frame int       `json:"frame"`
		At    uint64    `json:"at"`
	}

	EventedProfile struct {
		EndValue   uint64      `json:"endValue"`
		Events     []Event     `json:"events"`
		Name       string      `json:"name"`
		StartValue uint64      `json:"startValue"`
		ThreadID   uint64      `json:"threadID"`
		Type       ProfileType `json:"type"`
		Unit       ValueUnit   `json:"unit"`
	}

	SharedData struct {
		Frames []Frame `json:"frames"`
	}

	EventType   string
	ProfileType string
	ValueUnit   string

	Output struct {
		Schema             string        `json:"$schema"`
		ActiveProfileIndex int           `json:"activeProfileIndex"`
		DurationNS         uint64        `json:"durationNS"`
		Exporter           string        `json:"exporter,omitempty"`
		Name               string        `json:"name,omitempty"`
		ProfileID          string        `json:"profileID"`
		Profiles           []interface{} `json:"profiles"`
		Shared             SharedData    `json:"shared"`
	}
)

// CheckBalanced verifies every close event matches the innermost open frame
// and that no frame is left open.
func (p EventedProfile) CheckBalanced() error {
	var stack []int
	for i, e := range p.Events {
		switch e.Type {
		case EventTypeOpenFrame:
			stack = append(stack, e.Frame)
		case EventTypeCloseFrame:
			if len(stack) == 0 || stack[len(stack)-1] != e.Frame {
				return fmt.Errorf("speedscope: event %d closes frame %d which is not the innermost open frame", i, e.Frame)
			}
			stack = stack[:len(stack)-1]
		}
		if e.At < p.StartValue || e.At > p.EndValue {
			return fmt.Errorf("speedscope: event %d at %d is outside of the profile", i, e.At)
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("speedscope: %d frames left open", len(stack))
	}
	return nil
}
