package netbox

// NetBox API request/response types.
// These mirror the NetBox v4 REST API entity shapes used by the sync engine.

// NBSite represents a NetBox site (data center / location).
type NBSite struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
}

// NBManufacturer represents a NetBox manufacturer.
type NBManufacturer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	URL  string `json:"url,omitempty"`
}

// NBDeviceType represents a NetBox device type (hardware model).
type NBDeviceType struct {
	ID           int             `json:"id"`
	Manufacturer *NBManufacturer `json:"manufacturer,omitempty"`
	Model        string          `json:"model"`
	Slug         string          `json:"slug"`
	URL          string          `json:"url,omitempty"`
}

// NBDeviceRole represents a NetBox device role (functional purpose).
type NBDeviceRole struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color,omitempty"`
	URL   string `json:"url,omitempty"`
}

// NBPlatform represents a NetBox platform (OS / software family).
type NBPlatform struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// NBDevice represents a NetBox device entity.
type NBDevice struct {
	ID           int                    `json:"id"`
	Name         string                 `json:"name"`
	DeviceType   *NBDeviceType          `json:"device_type,omitempty"`
	Role         *NBDeviceRole          `json:"role,omitempty"`
	Site         *NBSite                `json:"site,omitempty"`
	Platform     *NBPlatform            `json:"platform,omitempty"`
	Status       *NBStatusValue         `json:"status,omitempty"`
	Serial       string                 `json:"serial,omitempty"`
	AssetTag     string                 `json:"asset_tag,omitempty"`
	Comments     string                 `json:"comments,omitempty"`
	PrimaryIP4   *NBIPAddress           `json:"primary_ip4,omitempty"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
	URL          string                 `json:"url,omitempty"`
}

// NBStatusValue represents a NetBox status choice (value + label).
type NBStatusValue struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// NBInterface represents a NetBox device interface.
type NBInterface struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// NBIPAddress represents a NetBox IP address assignment.
type NBIPAddress struct {
	ID                 int    `json:"id"`
	Address            string `json:"address"`
	AssignedObjectType string `json:"assigned_object_type,omitempty"`
	AssignedObjectID   int    `json:"assigned_object_id,omitempty"`
	URL                string `json:"url,omitempty"`
}

// ListResponse is the generic paginated response from NetBox list endpoints.
type ListResponse[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	Results  []T    `json:"results"`
}

// NBDeviceCreateRequest is the payload for creating/updating a NetBox device.
// Zero-valued fields are omitted so the same type serves PATCH updates.
type NBDeviceCreateRequest struct {
	Name         string                 `json:"name,omitempty"`
	DeviceType   int                    `json:"device_type,omitempty"`
	Role         int                    `json:"role,omitempty"`
	Site         int                    `json:"site,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Serial       string                 `json:"serial,omitempty"`
	Comments     string                 `json:"comments,omitempty"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
}

// NBInterfaceCreateRequest is the payload for creating a NetBox interface.
type NBInterfaceCreateRequest struct {
	Device int    `json:"device"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// NBIPAddressCreateRequest is the payload for creating a NetBox IP address.
type NBIPAddressCreateRequest struct {
	Address            string `json:"address"`
	Status             string `json:"status,omitempty"`
	AssignedObjectType string `json:"assigned_object_type,omitempty"`
	AssignedObjectID   int    `json:"assigned_object_id,omitempty"`
}
