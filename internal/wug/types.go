package wug

import "encoding/json"

// Device is a normalized WhatsUp Gold device record.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Status   string `json:"status"`
	Vendor   string `json:"vendor,omitempty"`
	Model    string `json:"model,omitempty"`
	OS       string `json:"os,omitempty"`
	Group    string `json:"group,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// DeviceConfig describes a device to create in WhatsUp Gold.
type DeviceConfig struct {
	Name          string            `json:"device_name"`
	Address       string            `json:"ip_address"`
	Group         string            `json:"group,omitempty"`
	Description   string            `json:"description,omitempty"`
	Location      string            `json:"location,omitempty"`
	Contact       string            `json:"contact,omitempty"`
	SNMPCommunity string            `json:"snmp_community,omitempty"`
	SNMPVersion   string            `json:"snmp_version,omitempty"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
}

// Metadata carries NetBox attributes pushed onto an existing WUG device
// as custom fields.
type Metadata struct {
	Name        string
	Site        string
	Role        string
	Type        string
	Platform    string
	Serial      string
	AssetTag    string
	Description string
}

// ScanState is the lifecycle state of a discovery scan.
type ScanState string

const (
	ScanRunning   ScanState = "running"
	ScanCompleted ScanState = "completed"
	ScanFailed    ScanState = "failed"
)

// ScanStatus is the result of polling a discovery scan.
// DeviceID is set only when the scan completed and discovered a device.
type ScanStatus struct {
	ScanID   string
	State    ScanState
	DeviceID string
	Message  string
}

// wire types

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
}

type deviceWire struct {
	ID       json.RawMessage `json:"id"`
	DeviceID json.RawMessage `json:"device_id"`
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	IP       string          `json:"ip_address"`
	Status   string          `json:"status"`
	Vendor   string          `json:"vendor"`
	Model    string          `json:"model"`
	OS       string          `json:"os_version"`
	Group    string          `json:"group"`
	Location string          `json:"location"`
	Notes    string          `json:"notes"`
}

type devicesWire struct {
	Devices []deviceWire `json:"devices"`
}

type scanWire struct {
	ScanID   json.RawMessage `json:"scan_id"`
	ID       json.RawMessage `json:"id"`
	Status   string          `json:"status"`
	DeviceID json.RawMessage `json:"device_id"`
	Message  string          `json:"message"`
}
