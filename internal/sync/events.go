package sync

import (
	"encoding/json"
	"fmt"

	"github.com/nbtools/wugsync/internal/netbox"
)

// Bus topics for registry change notifications. The webhook endpoint
// publishes these; the sync module subscribes to both.
const (
	TopicDeviceSaved   = "netbox.device.saved"
	TopicDeviceDeleted = "netbox.device.deleted"
)

// DeviceEvent is the payload carried on the device topics.
type DeviceEvent struct {
	Device     netbox.NBDevice
	PrevStatus string
}

type webhookPayload struct {
	Event     string          `json:"event"`
	Model     string          `json:"model"`
	Data      netbox.NBDevice `json:"data"`
	Snapshots struct {
		Prechange json.RawMessage `json:"prechange"`
	} `json:"snapshots"`
}

// parseWebhook decodes a NetBox webhook body into the event kind, the
// device after the change, and the device status before the change.
func parseWebhook(body []byte) (event string, dev netbox.NBDevice, prevStatus string, err error) {
	var p webhookPayload
	if err = json.Unmarshal(body, &p); err != nil {
		return "", netbox.NBDevice{}, "", fmt.Errorf("decode webhook: %w", err)
	}
	if p.Model != "" && p.Model != "device" {
		return "", netbox.NBDevice{}, "", fmt.Errorf("unsupported webhook model %q", p.Model)
	}
	if p.Data.ID == 0 {
		return "", netbox.NBDevice{}, "", fmt.Errorf("webhook payload has no device data")
	}
	return p.Event, p.Data, prechangeStatus(p.Snapshots.Prechange), nil
}

// prechangeStatus extracts the status value from a prechange snapshot.
// NetBox renders snapshot statuses as bare strings; live API objects use
// value/label pairs. Both forms are accepted.
func prechangeStatus(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var snap struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil || len(snap.Status) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(snap.Status, &s); err == nil {
		return s
	}
	var v netbox.NBStatusValue
	if err := json.Unmarshal(snap.Status, &v); err == nil {
		return v.Value
	}
	return ""
}
