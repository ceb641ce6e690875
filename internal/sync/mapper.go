package sync

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nbtools/wugsync/internal/wug"
)

// RegistryAttrs is the registry-side rendering of a remote monitoring
// device: everything the import pass needs to create or update a
// registry record.
type RegistryAttrs struct {
	Name         string
	Address      string
	Status       string
	Site         string
	Manufacturer string
	Model        string
	Comments     string

	// WarnUnmappedStatus is set when the remote status had no table entry
	// and the mapping fell back to offline. The caller decides how loudly
	// to report it.
	WarnUnmappedStatus bool
}

// statusTable maps remote monitoring states to registry device statuses.
// Matching is case-sensitive; anything else fails closed to offline.
var statusTable = map[string]string{
	"Up":          "active",
	"Down":        "failed",
	"Unknown":     "offline",
	"Maintenance": "planned",
	"Disabled":    "decommissioning",
}

// MapStatus translates a remote device status into a registry status.
// Unrecognized values map to offline with the warn flag set.
func MapStatus(remote string) (string, bool) {
	if mapped, ok := statusTable[remote]; ok {
		return mapped, false
	}
	return "offline", true
}

const maxDeviceNameLen = 64

// SanitizeName reduces a remote device name to the registry's allowed
// charset (letters, digits, dot, underscore, hyphen) and truncates it to
// the maximum length. An empty result means the name is unusable.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > maxDeviceNameLen {
		out = out[:maxDeviceNameLen]
	}
	return strings.Trim(out, "-.")
}

// MapDevice renders a remote device as registry attributes. Name
// sanitization and status mapping are applied here; collision handling
// and site or type creation policy belong to the import pass.
func MapDevice(d wug.Device, defaultSite string) RegistryAttrs {
	status, warn := MapStatus(d.Status)
	site := d.Location
	if site == "" {
		site = defaultSite
	}
	manufacturer := d.Vendor
	if manufacturer == "" {
		manufacturer = "Unknown"
	}
	model := d.Model
	if model == "" {
		model = "Generic Device"
	}
	comments := d.Notes
	if d.Group != "" {
		if comments != "" {
			comments += "\n"
		}
		comments += "Monitoring group: " + d.Group
	}
	return RegistryAttrs{
		Name:               SanitizeName(d.Name),
		Address:            d.Address,
		Status:             status,
		Site:               site,
		Manufacturer:       manufacturer,
		Model:              model,
		Comments:           comments,
		WarnUnmappedStatus: warn,
	}
}

// Snapshot produces a canonical fingerprint of the mapped attributes.
// Two devices with equal snapshots need no registry update.
func Snapshot(a RegistryAttrs) string {
	fields := map[string]string{
		"name":         a.Name,
		"address":      a.Address,
		"status":       a.Status,
		"site":         a.Site,
		"manufacturer": a.Manufacturer,
		"model":        a.Model,
		"comments":     a.Comments,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, fields[k]})
	}
	raw, _ := json.Marshal(ordered)
	return string(raw)
}

// snapshotStatus extracts the status field from a stored link snapshot,
// i.e. the registry status the engine last wrote for that device. Returns
// "" for links without a snapshot.
func snapshotStatus(snap string) string {
	if snap == "" {
		return ""
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(snap), &pairs); err != nil {
		return ""
	}
	for _, p := range pairs {
		if p[0] == "status" {
			return p[1]
		}
	}
	return ""
}

// ExportMetadata builds the remote-side metadata payload from a registry
// device's descriptive fields.
func ExportMetadata(name, site, role, devType, platform, serial, assetTag string) wug.Metadata {
	return wug.Metadata{
		Name:        name,
		Site:        site,
		Role:        role,
		Type:        devType,
		Platform:    platform,
		Serial:      serial,
		AssetTag:    assetTag,
		Description: "NetBox: " + name,
	}
}
