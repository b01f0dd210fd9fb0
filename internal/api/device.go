package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"airsense/internal/buildinfo"
	"airsense/internal/connectivity"
	"airsense/internal/coordinator"
	"airsense/internal/display"
	"airsense/internal/input"
	"airsense/internal/mqtt"
	"airsense/internal/schema"
	"airsense/internal/storage"
)

// Device is the connectivity surface the API reads and feeds.
// connectivity.Orchestrator implements it.
type Device interface {
	Adopt() schema.Document
	State() connectivity.State
	Submit(kind connectivity.Kind, payload []byte, source string) error
	SessionSettings() mqtt.Config
	UpdateSessionSettings(s *storage.SessionSettings) error
}

// ButtonSink accepts virtual button presses. input.Queue implements it.
type ButtonSink interface {
	Push(e input.Event) bool
}

// DeviceHandler serves adoption, state and inbound documents
type DeviceHandler struct {
	device   Device
	settings func() coordinator.Settings
	display  Display
	buttons  ButtonSink
	logger   *zap.Logger
}

// NewDeviceHandler creates new device handler
func NewDeviceHandler(device Device, settings func() coordinator.Settings, display Display, buttons ButtonSink, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		device:   device,
		settings: settings,
		display:  display,
		buttons:  buttons,
		logger:   logger,
	}
}

// Adopt handles GET /api/adopt
func (h *DeviceHandler) Adopt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.device.Adopt())
}

// StateResponse is the body of GET /api/state
type StateResponse struct {
	Firmware     buildinfo.Firmware    `json:"firmware"`
	Connectivity connectivity.State    `json:"connectivity"`
	Settings     *coordinator.Settings `json:"settings,omitempty"`
	Display      *display.Frame        `json:"display,omitempty"`
}

// State handles GET /api/state
func (h *DeviceHandler) State(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		Firmware:     buildinfo.Current(),
		Connectivity: h.device.State(),
	}
	if h.settings != nil {
		s := h.settings()
		resp.Settings = &s
	}
	if h.display != nil {
		if frame, ok := h.display.Last(); ok {
			resp.Display = &frame
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// passwordMask replaces the saved password in responses
const passwordMask = "********"

// MQTTSettings is the body of GET and POST /api/mqtt
type MQTTSettings struct {
	Broker   string `json:"broker"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Prefix   string `json:"topicPrefix"`
	UseTLS   bool   `json:"useTLS"`
}

// GetMQTT handles GET /api/mqtt
func (h *DeviceHandler) GetMQTT(w http.ResponseWriter, r *http.Request) {
	cfg := h.device.SessionSettings()
	resp := MQTTSettings{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Prefix:   cfg.Prefix,
		UseTLS:   cfg.UseTLS,
	}
	if cfg.Password != "" {
		resp.Password = passwordMask
	}
	writeJSON(w, http.StatusOK, resp)
}

var brokerSchemes = map[string]bool{
	"tcp": true, "ssl": true, "tls": true, "ws": true, "wss": true, "mqtt": true, "mqtts": true,
}

// SetMQTT handles POST /api/mqtt. Empty fields fall back to the
// configured defaults; the session restarts on the next tick.
func (h *DeviceHandler) SetMQTT(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req storage.SessionSettings
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == passwordMask {
		// Echoed back from GET, keep the saved one
		req.Password = h.device.SessionSettings().Password
	}
	if req.Broker != "" {
		u, err := url.Parse(req.Broker)
		if err != nil || !brokerSchemes[u.Scheme] || u.Host == "" {
			writeError(w, http.StatusBadRequest, "Invalid broker URL")
			return
		}
	}

	if err := h.device.UpdateSessionSettings(&req); err != nil {
		h.logger.Error("failed to update session settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	h.logger.Info("session settings updated", zap.String("broker", req.Broker), zap.String("client", getClientIP(r)))
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// Config handles POST /api/config
func (h *DeviceHandler) Config(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, connectivity.KindConfig)
}

// Command handles POST /api/command
func (h *DeviceHandler) Command(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, connectivity.KindCommand)
}

// submit queues the body for the control loop. It is applied
// asynchronously, hence 202.
func (h *DeviceHandler) submit(w http.ResponseWriter, r *http.Request, kind connectivity.Kind) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.device.Submit(kind, body, "http"); err != nil {
		if errors.Is(err, connectivity.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// ButtonRequest is the body of POST /api/button
type ButtonRequest struct {
	Index uint8  `json:"index"`
	Event string `json:"event"`
}

// Button handles POST /api/button, a virtual button press
func (h *DeviceHandler) Button(w http.ResponseWriter, r *http.Request) {
	if h.buttons == nil {
		writeError(w, http.StatusNotFound, "No button input")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ButtonRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Index == 0 {
		req.Index = 1
	}
	gesture, err := input.ParseGesture(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.buttons.Push(input.Event{Index: req.Index, Gesture: gesture}) {
		writeError(w, http.StatusServiceUnavailable, "Button queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}
