package sync

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbtools/wugsync/pkg/plugin"
)

// Routes returns the module's HTTP surface. The server mounts these under
// /api/v1/sync/.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/connections", Handler: m.handleListConnections},
		{Method: "POST", Path: "/connections", Handler: m.handleCreateConnection},
		{Method: "GET", Path: "/connections/{id}", Handler: m.handleGetConnection},
		{Method: "PUT", Path: "/connections/{id}", Handler: m.handleUpdateConnection},
		{Method: "DELETE", Path: "/connections/{id}", Handler: m.handleDeleteConnection},
		{Method: "POST", Path: "/connections/{id}/test", Handler: m.handleTestConnection},
		{Method: "POST", Path: "/connections/{id}/import", Handler: m.handleImport},
		{Method: "POST", Path: "/connections/{id}/import/{remoteID}", Handler: m.handleImport},
		{Method: "POST", Path: "/connections/{id}/export", Handler: m.handleExport},
		{Method: "POST", Path: "/connections/{id}/poll", Handler: m.handlePoll},
		{Method: "GET", Path: "/connections/{id}/status", Handler: m.handleStatus},
		{Method: "GET", Path: "/connections/{id}/logs", Handler: m.handleLogs},
		{Method: "GET", Path: "/connections/{id}/links", Handler: m.handleLinks},
		{Method: "POST", Path: "/links/{id}/enable", Handler: m.handleEnableLink},
		{Method: "POST", Path: "/links/{id}/disable", Handler: m.handleDisableLink},
		{Method: "POST", Path: "/webhook", Handler: m.handleWebhook},
	}
}

func syncWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func syncWriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"title":  title,
		"status": status,
		"detail": detail,
	})
}

// guard rejects requests while the module is inert (no store or no
// configured registry client).
func (m *Module) guard(w http.ResponseWriter) bool {
	if !m.ready() {
		syncWriteProblem(w, http.StatusServiceUnavailable,
			"Sync Unavailable", "sync engine is not configured")
		return false
	}
	return true
}

func (m *Module) loadConnection(w http.ResponseWriter, r *http.Request) *Connection {
	conn, err := m.store.GetConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return nil
	}
	if conn == nil {
		syncWriteProblem(w, http.StatusNotFound, "Not Found", "connection not found")
		return nil
	}
	return conn
}

// connectionRequest is the create/update payload. Pointer fields default
// to true when omitted on create.
type connectionRequest struct {
	Name                  string `json:"name"`
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	UseSSL                *bool  `json:"use_ssl"`
	VerifySSL             bool   `json:"verify_ssl"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	AutoCreateSites       *bool  `json:"auto_create_sites"`
	AutoCreateDeviceTypes *bool  `json:"auto_create_device_types"`
	EnableExport          bool   `json:"enable_export"`
	AutoScanExportedIPs   bool   `json:"auto_scan_exported_ips"`
	PingBeforeExport      bool   `json:"ping_before_export"`
	ImportIntervalSeconds int    `json:"import_interval_seconds"`
	ExportIntervalSeconds int    `json:"export_interval_seconds"`
	Active                *bool  `json:"active"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (req *connectionRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return "name is required"
	case strings.TrimSpace(req.Host) == "":
		return "host is required"
	case req.Username == "":
		return "username is required"
	case req.Password == "":
		return "password is required"
	case req.Port < 0 || req.Port > 65535:
		return "port is out of range"
	}
	return ""
}

func (m *Module) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", msg)
		return
	}
	if req.Port == 0 {
		req.Port = 9644
	}

	now := time.Now().UTC()
	conn := &Connection{
		ID:                    uuid.NewString(),
		Name:                  req.Name,
		Host:                  req.Host,
		Port:                  req.Port,
		UseSSL:                boolOr(req.UseSSL, true),
		VerifySSL:             req.VerifySSL,
		Username:              req.Username,
		Password:              req.Password,
		AutoCreateSites:       boolOr(req.AutoCreateSites, true),
		AutoCreateDeviceTypes: boolOr(req.AutoCreateDeviceTypes, true),
		EnableExport:          req.EnableExport,
		AutoScanExportedIPs:   req.AutoScanExportedIPs,
		PingBeforeExport:      req.PingBeforeExport,
		ImportInterval:        time.Duration(req.ImportIntervalSeconds) * time.Second,
		ExportInterval:        time.Duration(req.ExportIntervalSeconds) * time.Second,
		Active:                boolOr(req.Active, true),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := m.store.InsertConnection(r.Context(), conn); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			syncWriteProblem(w, http.StatusConflict, "Conflict", "a connection with that name already exists")
			return
		}
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	if conn.Active {
		m.manager.StartConnection(m.schedulerContext(), *conn)
	}
	m.logger.Info("Connection created",
		zap.String("name", conn.Name), zap.String("id", conn.ID))
	syncWriteJSON(w, http.StatusCreated, conn)
}

func (m *Module) handleListConnections(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conns, err := m.store.ListConnections(r.Context())
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	if conns == nil {
		conns = []Connection{}
	}
	syncWriteJSON(w, http.StatusOK, conns)
}

func (m *Module) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	syncWriteJSON(w, http.StatusOK, conn)
}

func (m *Module) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Host != "" {
		conn.Host = req.Host
	}
	if req.Port != 0 {
		conn.Port = req.Port
	}
	if req.Username != "" {
		conn.Username = req.Username
	}
	if req.Password != "" {
		conn.Password = req.Password
	}
	if req.UseSSL != nil {
		conn.UseSSL = *req.UseSSL
	}
	conn.VerifySSL = req.VerifySSL
	if req.AutoCreateSites != nil {
		conn.AutoCreateSites = *req.AutoCreateSites
	}
	if req.AutoCreateDeviceTypes != nil {
		conn.AutoCreateDeviceTypes = *req.AutoCreateDeviceTypes
	}
	conn.EnableExport = req.EnableExport
	conn.AutoScanExportedIPs = req.AutoScanExportedIPs
	conn.PingBeforeExport = req.PingBeforeExport
	if req.ImportIntervalSeconds != 0 {
		conn.ImportInterval = time.Duration(req.ImportIntervalSeconds) * time.Second
	}
	if req.ExportIntervalSeconds != 0 {
		conn.ExportInterval = time.Duration(req.ExportIntervalSeconds) * time.Second
	}
	if req.Active != nil {
		conn.Active = *req.Active
	}

	if err := m.store.UpdateConnection(r.Context(), conn); err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	if conn.Active {
		m.manager.StartConnection(m.schedulerContext(), *conn)
	} else {
		m.manager.StopConnection(conn.ID)
	}
	syncWriteJSON(w, http.StatusOK, conn)
}

func (m *Module) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	m.manager.StopConnection(conn.ID)
	if err := m.store.DeleteConnection(r.Context(), conn.ID); err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	m.logger.Info("Connection deleted", zap.String("name", conn.Name))
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	count, err := m.engine.TestConnection(r.Context(), conn)
	if err != nil {
		syncWriteProblem(w, http.StatusBadGateway, "Monitor Unreachable", err.Error())
		return
	}
	syncWriteJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"device_count": count,
	})
}

func (m *Module) handleImport(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	log, err := m.manager.RunImport(r.Context(), conn, TriggerManual, r.PathValue("remoteID"))
	if err != nil && log == nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	syncWriteJSON(w, http.StatusOK, log)
}

func (m *Module) handleExport(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	if !conn.EnableExport {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", "export is disabled for this connection")
		return
	}
	log, err := m.manager.RunExport(r.Context(), conn, TriggerManual, nil)
	if err != nil && log == nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	syncWriteJSON(w, http.StatusOK, log)
}

func (m *Module) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	log, err := m.manager.RunPoll(r.Context(), conn)
	if err != nil && log == nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	syncWriteJSON(w, http.StatusOK, log)
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	links, err := m.store.LinkStatsFor(r.Context(), conn.ID)
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	exports, err := m.store.ExportStatsFor(r.Context(), conn.ID)
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	latest, err := m.store.LatestLog(r.Context(), conn.ID)
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	syncWriteJSON(w, http.StatusOK, map[string]any{
		"connection": conn,
		"links":      links,
		"exports":    exports,
		"last_log":   latest,
	})
}

func (m *Module) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := m.store.ListLogs(r.Context(), conn.ID, limit)
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	if logs == nil {
		logs = []SyncLog{}
	}
	syncWriteJSON(w, http.StatusOK, logs)
}

func (m *Module) handleLinks(w http.ResponseWriter, r *http.Request) {
	if !m.guard(w) {
		return
	}
	conn := m.loadConnection(w, r)
	if conn == nil {
		return
	}
	links, err := m.store.ListLinks(r.Context(), conn.ID)
	if err != nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", err.Error())
		return
	}
	if links == nil {
		links = []DeviceLink{}
	}
	syncWriteJSON(w, http.StatusOK, links)
}

func (m *Module) handleEnableLink(w http.ResponseWriter, r *http.Request) {
	m.setLinkEnabled(w, r, true)
}

func (m *Module) handleDisableLink(w http.ResponseWriter, r *http.Request) {
	m.setLinkEnabled(w, r, false)
}

func (m *Module) setLinkEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !m.guard(w) {
		return
	}
	id := r.PathValue("id")
	if err := m.store.SetLinkEnabled(r.Context(), id, enabled); err != nil {
		syncWriteProblem(w, http.StatusNotFound, "Not Found", "link not found")
		return
	}
	link, err := m.store.GetLink(r.Context(), id)
	if err != nil || link == nil {
		syncWriteProblem(w, http.StatusInternalServerError, "Internal Error", "link reload failed")
		return
	}
	syncWriteJSON(w, http.StatusOK, link)
}

// handleWebhook ingests NetBox webhook notifications and republishes them
// on the event bus, where this module's own subscriptions consume them.
func (m *Module) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}
	event, dev, prevStatus, err := parseWebhook(body)
	if err != nil {
		syncWriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	topic := TopicDeviceSaved
	if event == "deleted" {
		topic = TopicDeviceDeleted
	}
	payload := DeviceEvent{Device: dev, PrevStatus: prevStatus}

	if m.bus != nil {
		if err := m.bus.Publish(r.Context(), plugin.Event{
			Topic:     topic,
			Source:    "sync",
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		}); err != nil {
			m.logger.Error("Failed to publish device event", zap.Error(err))
		}
	} else if topic == TopicDeviceDeleted {
		m.handleDeviceDeleted(r.Context(), dev)
	} else {
		m.handleDeviceSaved(r.Context(), dev, prevStatus)
	}

	syncWriteJSON(w, http.StatusAccepted, map[string]string{
		"event": event,
		"topic": topic,
	})
}
