package sync

import (
	"strings"
	"testing"

	"github.com/nbtools/wugsync/internal/wug"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   string
		warn   bool
	}{
		{"Up", "active", false},
		{"Down", "failed", false},
		{"Unknown", "offline", false},
		{"Maintenance", "planned", false},
		{"Disabled", "decommissioning", false},
		{"up", "offline", true},
		{"Rebooting", "offline", true},
		{"", "offline", true},
	}
	for _, tt := range tests {
		got, warn := MapStatus(tt.remote)
		if got != tt.want || warn != tt.warn {
			t.Errorf("MapStatus(%q) = %q, %v; want %q, %v",
				tt.remote, got, warn, tt.want, tt.warn)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"core-sw-01", "core-sw-01"},
		{"Core SW 01", "Core-SW-01"},
		{"router#1 (east)", "router1-east"},
		{"fw.dmz_01", "fw.dmz_01"},
		{"---weird---", "weird"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeName_Truncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := SanitizeName(long)
	if len(got) != maxDeviceNameLen {
		t.Errorf("len = %d, want %d", len(got), maxDeviceNameLen)
	}
}

func TestMapDevice_Defaults(t *testing.T) {
	d := wug.Device{ID: "42", Name: "edge rtr", Address: "10.0.0.1", Status: "Up"}
	attrs := MapDevice(d, "Imported")
	if attrs.Name != "edge-rtr" {
		t.Errorf("name = %q", attrs.Name)
	}
	if attrs.Status != "active" {
		t.Errorf("status = %q", attrs.Status)
	}
	if attrs.Site != "Imported" {
		t.Errorf("site = %q, want fallback", attrs.Site)
	}
	if attrs.Manufacturer != "Unknown" || attrs.Model != "Generic Device" {
		t.Errorf("hardware defaults = %q / %q", attrs.Manufacturer, attrs.Model)
	}
	if attrs.WarnUnmappedStatus {
		t.Error("warn flag set for mapped status")
	}
}

func TestMapDevice_UsesRemoteFields(t *testing.T) {
	d := wug.Device{
		ID: "7", Name: "core-sw-01", Address: "10.1.1.1", Status: "Maintenance",
		Vendor: "Cisco", Model: "C9300", Location: "DC East",
		Group: "Core", Notes: "rack 4",
	}
	attrs := MapDevice(d, "Imported")
	if attrs.Site != "DC East" || attrs.Manufacturer != "Cisco" || attrs.Model != "C9300" {
		t.Errorf("attrs = %+v", attrs)
	}
	if attrs.Status != "planned" {
		t.Errorf("status = %q", attrs.Status)
	}
	if !strings.Contains(attrs.Comments, "rack 4") || !strings.Contains(attrs.Comments, "Core") {
		t.Errorf("comments = %q", attrs.Comments)
	}
}

func TestSnapshot_StableAndSensitive(t *testing.T) {
	a := RegistryAttrs{Name: "sw1", Address: "10.0.0.1", Status: "active"}
	b := RegistryAttrs{Name: "sw1", Address: "10.0.0.1", Status: "active"}
	if Snapshot(a) != Snapshot(b) {
		t.Error("equal attrs produced different snapshots")
	}
	b.Status = "failed"
	if Snapshot(a) == Snapshot(b) {
		t.Error("different attrs produced equal snapshots")
	}
}

func TestSnapshotStatus(t *testing.T) {
	snap := Snapshot(RegistryAttrs{Name: "sw1", Address: "10.0.0.1", Status: "failed"})
	if got := snapshotStatus(snap); got != "failed" {
		t.Errorf("status = %q", got)
	}
	if got := snapshotStatus(""); got != "" {
		t.Errorf("empty snapshot status = %q", got)
	}
	if got := snapshotStatus("not a snapshot"); got != "" {
		t.Errorf("malformed snapshot status = %q", got)
	}
}
