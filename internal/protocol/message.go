// Package protocol defines the fixed key/value message vocabulary exchanged
// between the phone bridge and the watch app.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message keys. Baked into both binaries independently; renumbering is a
// compatibility break.
const (
	KeyPace = 0 // phone→watch, text "mm:ss/km"
	KeyTime = 1 // phone→watch, text "HH:MM:SS"
	KeyHR   = 2 // watch→phone, unsigned 16-bit BPM
	KeyCmd  = 3 // phone→watch, unsigned 8-bit command
)

// Command lifecycle control values carried under KeyCmd
type Command uint8

const (
	CmdStart Command = 1
	CmdStop  Command = 2
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// Known reports whether the command value is part of the vocabulary.
// Unknown values are logged and ignored by handlers, never fatal.
func (c Command) Known() bool {
	return c == CmdStart || c == CmdStop
}

// Message one exchange over the watch link. Every field is independently
// optional; a single message may carry any subset.
type Message struct {
	Pace      *string
	Time      *string
	HeartRate *uint16
	Command   *Command
}

// CommandMessage builds a message carrying only a lifecycle command.
func CommandMessage(cmd Command) Message {
	return Message{Command: &cmd}
}

// DisplayMessage builds a message carrying the pace and time display strings.
func DisplayMessage(pace, elapsed string) Message {
	return Message{Pace: &pace, Time: &elapsed}
}

// HRMessage builds a watch→phone heart-rate message.
func HRMessage(bpm uint16) Message {
	return Message{HeartRate: &bpm}
}

// Empty reports whether the message carries no fields.
func (m Message) Empty() bool {
	return m.Pace == nil && m.Time == nil && m.HeartRate == nil && m.Command == nil
}

// Encode marshals the message as a JSON dictionary keyed by the numeric
// message keys. Absent fields are omitted.
func (m Message) Encode() ([]byte, error) {
	dict := make(map[string]interface{}, 4)
	if m.Pace != nil {
		dict[fmt.Sprintf("%d", KeyPace)] = *m.Pace
	}
	if m.Time != nil {
		dict[fmt.Sprintf("%d", KeyTime)] = *m.Time
	}
	if m.HeartRate != nil {
		dict[fmt.Sprintf("%d", KeyHR)] = *m.HeartRate
	}
	if m.Command != nil {
		dict[fmt.Sprintf("%d", KeyCmd)] = uint8(*m.Command)
	}
	return json.Marshal(dict)
}

// Decode parses a wire payload. Unknown keys are ignored; out-of-range HR or
// CMD values fail decoding so the handler can log and drop the message.
func Decode(payload []byte) (Message, error) {
	var dict map[string]json.RawMessage
	if err := json.Unmarshal(payload, &dict); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	var msg Message

	if raw, ok := dict[fmt.Sprintf("%d", KeyPace)]; ok {
		var pace string
		if err := json.Unmarshal(raw, &pace); err != nil {
			return Message{}, fmt.Errorf("invalid PACE field: %w", err)
		}
		msg.Pace = &pace
	}

	if raw, ok := dict[fmt.Sprintf("%d", KeyTime)]; ok {
		var elapsed string
		if err := json.Unmarshal(raw, &elapsed); err != nil {
			return Message{}, fmt.Errorf("invalid TIME field: %w", err)
		}
		msg.Time = &elapsed
	}

	if raw, ok := dict[fmt.Sprintf("%d", KeyHR)]; ok {
		var hr uint32
		if err := json.Unmarshal(raw, &hr); err != nil {
			return Message{}, fmt.Errorf("invalid HR field: %w", err)
		}
		if hr > 0xFFFF {
			return Message{}, fmt.Errorf("HR value %d exceeds uint16", hr)
		}
		bpm := uint16(hr)
		msg.HeartRate = &bpm
	}

	if raw, ok := dict[fmt.Sprintf("%d", KeyCmd)]; ok {
		var cmd uint32
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return Message{}, fmt.Errorf("invalid CMD field: %w", err)
		}
		if cmd > 0xFF {
			return Message{}, fmt.Errorf("CMD value %d exceeds uint8", cmd)
		}
		c := Command(cmd)
		msg.Command = &c
	}

	return msg, nil
}

// FormatPace renders seconds-per-kilometer as "mm:ss/km" for the watch
// display. Non-positive pace renders as the placeholder shown before any
// distance has accumulated.
func FormatPace(secPerKm float64) string {
	if secPerKm <= 0 {
		return "--:--/km"
	}
	total := int(secPerKm + 0.5)
	return fmt.Sprintf("%02d:%02d/km", total/60, total%60)
}

// FormatClock renders an elapsed duration as "HH:MM:SS".
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
