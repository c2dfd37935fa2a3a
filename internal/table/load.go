package table

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// On-disk table formats. Both loaders are all-or-nothing: any invalid entry
// rejects the whole file so a half-loaded table never reaches the scheduler.

type scheduleFile struct {
	Activities []scheduleFileEntry `yaml:"activities"`
}

type scheduleFileEntry struct {
	Slot     int    `yaml:"slot"`
	Activity int    `yaml:"activity"`
	Enabled  bool   `yaml:"enabled"`
	Period   uint16 `yaml:"period"`
	Offset   uint16 `yaml:"offset"`
	Message  uint16 `yaml:"message"`
}

type messageFile struct {
	Messages []messageFileEntry `yaml:"messages"`
}

type messageFileEntry struct {
	Index   int    `yaml:"index"`
	APID    uint16 `yaml:"apid"`
	Payload string `yaml:"payload"` // hex-encoded
}

// LoadScheduleFile reads a schedule table definition. Activities not listed
// stay zero-valued (disabled). msgCount bounds the message index check.
func LoadScheduleFile(path string, slots, activitiesPerSlot, msgCount int) (*ScheduleTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f scheduleFile
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schedule table %s: %w", path, err)
	}

	t, err := NewScheduleTable(slots, activitiesPerSlot)
	if err != nil {
		return nil, err
	}

	for i, a := range f.Activities {
		e := Entry{Enabled: a.Enabled, Period: a.Period, Offset: a.Offset, MsgIndex: a.Message}
		if err := e.Validate(msgCount); err != nil {
			return nil, fmt.Errorf("schedule table %s: activities[%d] (slot %d activity %d): %w",
				path, i, a.Slot, a.Activity, err)
		}
		if err := t.SetEntry(a.Slot, a.Activity, e); err != nil {
			return nil, fmt.Errorf("schedule table %s: activities[%d]: %w", path, i, err)
		}
	}
	return t, nil
}

// LoadMessageFile reads a message table definition into a table of the given
// size.
func LoadMessageFile(path string, size int) (*MessageTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f messageFile
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("message table %s: %w", path, err)
	}

	t, err := NewMessageTable(size)
	if err != nil {
		return nil, err
	}

	for i, m := range f.Messages {
		payload, err := hex.DecodeString(strings.TrimSpace(m.Payload))
		if err != nil {
			return nil, fmt.Errorf("message table %s: messages[%d]: bad payload hex: %w", path, i, err)
		}
		msg, err := NewMessage(m.APID, payload)
		if err != nil {
			return nil, fmt.Errorf("message table %s: messages[%d]: %w", path, i, err)
		}
		if err := t.Load(m.Index, msg); err != nil {
			return nil, fmt.Errorf("message table %s: messages[%d]: %w", path, i, err)
		}
	}
	return t, nil
}
