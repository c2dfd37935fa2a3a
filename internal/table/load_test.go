package table

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadScheduleFile(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "schedule.yaml", `
activities:
  - slot: 0
    activity: 0
    enabled: true
    period: 4
    offset: 1
    message: 2
  - slot: 9
    activity: 3
    enabled: false
    period: 1
    offset: 0
    message: 0
`)

	st, err := LoadScheduleFile(path, 10, 4, 8)
	if err != nil {
		t.Fatalf("LoadScheduleFile: %v", err)
	}
	e, err := st.Entry(0, 0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if !e.Enabled || e.Period != 4 || e.Offset != 1 || e.MsgIndex != 2 {
		t.Fatalf("entry = %+v", e)
	}
	// Unlisted cells stay disabled.
	other, _ := st.Entry(5, 0)
	if other.Enabled {
		t.Fatal("unlisted entry should be disabled")
	}
}

func TestLoadScheduleFileRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "activities:\n  - slot: 0\n    activity: 0\n    period: 1\n    offset: 0\n    message: 0\n    bogus: 1\n"},
		{name: "offset >= period", body: "activities:\n  - slot: 0\n    activity: 0\n    enabled: true\n    period: 2\n    offset: 2\n    message: 0\n"},
		{name: "slot out of range", body: "activities:\n  - slot: 10\n    activity: 0\n    period: 1\n    offset: 0\n    message: 0\n"},
		{name: "message out of range", body: "activities:\n  - slot: 0\n    activity: 0\n    period: 1\n    offset: 0\n    message: 8\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "schedule.yaml", tt.body)
			if _, err := LoadScheduleFile(path, 10, 4, 8); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadMessageFile(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "messages.yaml", `
messages:
  - index: 0
    apid: 0x101
    payload: deadbeef
  - index: 5
    apid: 257
    payload: "00"
`)

	mt, err := LoadMessageFile(path, 8)
	if err != nil {
		t.Fatalf("LoadMessageFile: %v", err)
	}
	m, err := mt.Lookup(0)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.APID() != 0x101 || len(m.Payload()) != 4 {
		t.Fatalf("message = apid 0x%X payload %d bytes", m.APID(), len(m.Payload()))
	}
	if _, err := mt.Lookup(1); err == nil {
		t.Fatal("index 1 should be a hole")
	}
}

func TestLoadMessageFileRejectsBadHex(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "messages.yaml", "messages:\n  - index: 0\n    apid: 1\n    payload: zz\n")
	if _, err := LoadMessageFile(path, 8); err == nil {
		t.Fatal("expected hex error")
	}
}
