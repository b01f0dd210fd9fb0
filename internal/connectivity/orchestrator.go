// Package connectivity owns the network association, the MQTT session and
// the local status API, and builds the device's self-description document.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"airsense/internal/buildinfo"
	"airsense/internal/events"
	"airsense/internal/mqtt"
	"airsense/internal/network"
	"airsense/internal/schema"
	"airsense/internal/storage"
	"airsense/internal/system"
)

var (
	// ErrNoHandler is returned by Initialize before RegisterHandlers
	ErrNoHandler = errors.New("no config/command handler registered")

	// ErrNetworkDown is returned by publishes while the network is down
	ErrNetworkDown = errors.New("network is down")

	// ErrSessionDown is returned by publishes while the session is down
	ErrSessionDown = errors.New("session is down")

	// ErrQueueFull is returned when inbound documents arrive faster than
	// the control loop drains them
	ErrQueueFull = errors.New("inbound queue is full")
)

// maxInboundPerTick bounds how much work one Tick does.
const maxInboundPerTick = 16

// State is the connectivity snapshot. SessionUp implies NetworkUp.
type State struct {
	NetworkUp          bool `json:"networkUp"`
	SessionUp          bool `json:"sessionUp"`
	StatusAPIListening bool `json:"statusApiListening"`
}

// Handler receives inbound documents on the control loop.
type Handler interface {
	OnConfig(doc schema.Document)
	OnCommand(doc schema.Document)
}

// Kind tells config from command documents.
type Kind int

const (
	KindConfig Kind = iota
	KindCommand
	kindReconnect
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindCommand:
		return "command"
	default:
		return "reconnect"
	}
}

type inbound struct {
	kind   Kind
	doc    schema.Document
	source string
}

// Config holds the orchestrator's defaults.
type Config struct {
	// Session defaults. An empty ClientID is derived from the MAC address.
	Session mqtt.Config
	// ListenAddr is the status API address, e.g. ":8080". Empty disables it.
	ListenAddr string
	// QueueSize bounds pending inbound documents.
	QueueSize int
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Link       network.Link
	NewSession SessionFactory
	Storage    storage.Storage // optional
	Restarter  system.Restarter
	Counters   func() system.Counters // optional
	Events     *events.Store          // optional
	Logger     *zap.Logger
}

// Orchestrator is the connectivity state machine. Tick, the handler
// callbacks and the fragment setters run on the control loop; State,
// Adopt, Submit and the identity helpers are safe from any goroutine.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	handler Handler
	inbound chan inbound

	// bumped by the session on every connect, read by Tick
	connects atomic.Uint64
	seen     uint64

	mu          sync.RWMutex
	state       State
	session     Session
	publisher   *mqtt.Publisher
	sessionCfg  mqtt.Config
	topics      mqtt.Topics
	configFrag  schema.Document
	commandFrag schema.Document

	statusHandler http.Handler
	server        *http.Server
	serveDone     chan struct{}
}

// New creates an orchestrator. Nothing connects before Initialize.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewSession == nil {
		deps.NewSession = MQTTSessions(deps.Logger.Named("mqtt"))
	}
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger,
		inbound:     make(chan inbound, cfg.QueueSize),
		configFrag:  schema.Document{},
		commandFrag: schema.Document{},
	}
}

// RegisterHandlers sets the receiver of config and command documents.
// It must be called before Initialize.
func (o *Orchestrator) RegisterHandlers(h Handler) {
	o.handler = h
}

// SetStatusHandler sets what the status API serves. It must be called
// before Initialize.
func (o *Orchestrator) SetStatusHandler(h http.Handler) {
	o.statusHandler = h
}

// Initialize associates with the network, which blocks until the link
// is up, then sets up the session defaults, applies saved overrides on top
// of them, starts connecting and finally starts the status API.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.handler == nil {
		return ErrNoHandler
	}

	o.logger.Info("firmware", zap.Any("firmware", buildinfo.Current()))

	if err := o.deps.Link.Associate(ctx); err != nil {
		return fmt.Errorf("network association failed: %w", err)
	}
	o.mu.Lock()
	o.state.NetworkUp = true
	o.mu.Unlock()
	o.record(events.EventNetworkUp, "", o.IPText())

	if err := o.startSession(); err != nil {
		return err
	}

	if err := o.startStatusAPI(); err != nil {
		return err
	}
	return nil
}

// sessionConfig layers saved overrides over the built-in defaults.
func (o *Orchestrator) sessionConfig() mqtt.Config {
	cfg := o.cfg.Session
	if cfg.ClientID == "" {
		cfg.ClientID = network.ClientID(o.deps.Link.HardwareAddr())
	}

	if o.deps.Storage != nil {
		saved, err := o.deps.Storage.GetSession()
		switch {
		case err == nil:
			applyOverrides(&cfg, saved)
		case !errors.Is(err, storage.ErrNotFound):
			o.logger.Warn("failed to load saved session settings", zap.Error(err))
		}
	}
	return cfg
}

func applyOverrides(cfg *mqtt.Config, s *storage.SessionSettings) {
	if s.Broker != "" {
		cfg.Broker = s.Broker
	}
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Username != "" {
		cfg.Username = s.Username
	}
	if s.Password != "" {
		cfg.Password = s.Password
	}
	if s.Prefix != "" {
		cfg.Prefix = s.Prefix
	}
	if s.UseTLS != nil {
		cfg.UseTLS = *s.UseTLS
	}
}

func (o *Orchestrator) startSession() error {
	cfg := o.sessionConfig()
	topics := mqtt.Topics{Prefix: cfg.Prefix, ClientID: cfg.ClientID}
	cfg.Subscriptions = []string{topics.Config(), topics.Command()}
	cfg.Will = &mqtt.Will{Topic: topics.LWT(), Payload: mqtt.PayloadOffline, Retained: true}

	o.mu.Lock()
	o.sessionCfg = cfg
	o.topics = topics
	o.mu.Unlock()

	if cfg.Broker == "" {
		o.logger.Warn("no MQTT broker configured, waiting for settings through the status API",
			zap.String("clientId", cfg.ClientID))
		return nil
	}

	confTopic := topics.Full(topics.Config())
	cmndTopic := topics.Full(topics.Command())

	session, err := o.deps.NewSession(cfg, mqtt.Handlers{
		OnConnect: func() {
			o.connects.Add(1)
		},
		OnConnectionLost: func(err error) {
			o.logger.Warn("session lost", zap.Error(err))
		},
		OnMessage: func(topic string, payload []byte) {
			var kind Kind
			switch topic {
			case confTopic:
				kind = KindConfig
			case cmndTopic:
				kind = KindCommand
			default:
				o.logger.Debug("ignoring message", zap.String("topic", topic))
				return
			}
			if err := o.Submit(kind, payload, "mqtt"); err != nil {
				o.logger.Warn("dropped inbound message", zap.String("topic", topic), zap.Error(err))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := session.Connect(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	o.mu.Lock()
	o.session = session
	o.publisher = mqtt.NewPublisher(session, o.logger)
	o.mu.Unlock()

	o.logger.Info("session started",
		zap.String("broker", cfg.Broker),
		zap.String("clientId", cfg.ClientID),
		zap.String("topic", topics.Wildcard()))
	return nil
}

func (o *Orchestrator) startStatusAPI() error {
	if o.cfg.ListenAddr == "" || o.statusHandler == nil {
		o.logger.Info("status API disabled")
		return nil
	}

	ln, err := net.Listen("tcp", o.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to start status API: %w", err)
	}

	srv := &http.Server{
		Handler:           o.statusHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	o.mu.Lock()
	o.server = srv
	o.serveDone = done
	o.state.StatusAPIListening = true
	o.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("status API stopped", zap.Error(err))
		}
		o.mu.Lock()
		o.state.StatusAPIListening = false
		o.mu.Unlock()
	}()

	o.logger.Info("status API listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Submit decodes payload and queues it for the next Tick.
func (o *Orchestrator) Submit(kind Kind, payload []byte, source string) error {
	doc, err := schema.Decode(payload)
	if err != nil {
		return err
	}
	return o.enqueue(inbound{kind: kind, doc: doc, source: source})
}

func (o *Orchestrator) enqueue(msg inbound) error {
	select {
	case o.inbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Tick services the orchestrator once. It never blocks.
func (o *Orchestrator) Tick(now time.Time) {
	networkUp := o.deps.Link.Up()

	o.mu.RLock()
	session := o.session
	prev := o.state
	o.mu.RUnlock()

	sessionUp := networkUp && session != nil && session.IsConnected()

	o.mu.Lock()
	o.state.NetworkUp = networkUp
	o.state.SessionUp = sessionUp
	o.mu.Unlock()

	if networkUp != prev.NetworkUp {
		if networkUp {
			o.logger.Info("network up")
			o.record(events.EventNetworkUp, "", o.IPText())
		} else {
			o.logger.Warn("network down")
			o.record(events.EventNetworkDown, "", "")
		}
	}
	if sessionUp != prev.SessionUp {
		if sessionUp {
			o.record(events.EventSessionUp, "mqtt", o.TopicText())
		} else {
			o.logger.Warn("session down")
			o.record(events.EventSessionDown, "mqtt", "")
		}
	}

	// One adoption per connect, whatever number of Ticks saw it. Several
	// connects between two Ticks collapse into a single adoption; the
	// document is retained so only the latest one matters.
	if n := o.connects.Load(); n != o.seen && sessionUp {
		o.seen = n
		o.announce()
	}

	for i := 0; i < maxInboundPerTick; i++ {
		select {
		case msg := <-o.inbound:
			o.dispatch(msg)
		default:
			return
		}
	}
}

// announce publishes availability and the self-description document.
func (o *Orchestrator) announce() {
	o.mu.RLock()
	pub, topics := o.publisher, o.topics
	o.mu.RUnlock()
	if pub == nil {
		return
	}

	if err := pub.PublishText(topics.LWT(), true, mqtt.PayloadOnline); err != nil {
		o.logger.Warn("failed to publish availability", zap.Error(err))
	}
	if err := pub.PublishJSON(topics.Adopt(), true, o.Adopt()); err != nil {
		o.logger.Warn("failed to publish adoption", zap.Error(err))
		return
	}
	o.logger.Info("published adoption", zap.String("topic", topics.Full(topics.Adopt())))
}

func (o *Orchestrator) dispatch(msg inbound) {
	switch msg.kind {
	case KindConfig:
		o.record(events.EventConfig, msg.source, keys(msg.doc))
		o.handler.OnConfig(msg.doc)

	case KindCommand:
		o.record(events.EventCommand, msg.source, keys(msg.doc))
		if restart, ok := msg.doc.Bool("restart"); ok && restart {
			o.record(events.EventRestart, msg.source, "command")
			if err := o.deps.Restarter.Restart("restart command"); err != nil {
				o.logger.Error("restart failed", zap.Error(err))
			}
			return
		}
		o.handler.OnCommand(msg.doc)

	case kindReconnect:
		o.reconnect()
	}
}

func keys(doc schema.Document) string {
	out := make([]string, 0, len(doc))
	for k := range doc {
		out = append(out, k)
	}
	return strings.Join(out, ",")
}

// reconnect drops the session and builds a new one from the current
// overrides.
func (o *Orchestrator) reconnect() {
	o.mu.Lock()
	old := o.session
	o.session = nil
	o.publisher = nil
	o.state.SessionUp = false
	o.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if err := o.startSession(); err != nil {
		o.logger.Error("failed to restart session", zap.Error(err))
	}
}

// SetConfigSchemaFragment replaces the firmware's config schema properties.
func (o *Orchestrator) SetConfigSchemaFragment(doc schema.Document) {
	frag := schema.Document{}
	schema.Merge(frag, doc)

	o.mu.Lock()
	o.configFrag = frag
	o.mu.Unlock()
}

// SetCommandSchemaFragment replaces the firmware's command schema
// properties.
func (o *Orchestrator) SetCommandSchemaFragment(doc schema.Document) {
	frag := schema.Document{}
	schema.Merge(frag, doc)

	o.mu.Lock()
	o.commandFrag = frag
	o.mu.Unlock()
}

// PublishStatus publishes doc on the status topic. It fails at once while
// the network or session is down and never retries.
func (o *Orchestrator) PublishStatus(doc schema.Document) error {
	return o.publishDoc(func(t mqtt.Topics) string { return t.Status() }, doc)
}

// PublishTelemetry publishes doc on the telemetry topic with the same
// rules as PublishStatus.
func (o *Orchestrator) PublishTelemetry(doc schema.Document) error {
	return o.publishDoc(func(t mqtt.Topics) string { return t.Telemetry() }, doc)
}

func (o *Orchestrator) publishDoc(topic func(mqtt.Topics) string, doc schema.Document) error {
	o.mu.RLock()
	state, pub, topics := o.state, o.publisher, o.topics
	o.mu.RUnlock()

	if !state.NetworkUp {
		return ErrNetworkDown
	}
	if !state.SessionUp || pub == nil {
		return ErrSessionDown
	}
	if err := pub.PublishJSON(topic(topics), false, doc); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return ErrSessionDown
		}
		return err
	}
	return nil
}

// PublishRaw publishes to an absolute topic, e.g. for discovery.
func (o *Orchestrator) PublishRaw(topic string, retained bool, payload []byte) error {
	o.mu.RLock()
	state, session := o.state, o.session
	o.mu.RUnlock()

	if !state.NetworkUp {
		return ErrNetworkDown
	}
	if !state.SessionUp || session == nil {
		return ErrSessionDown
	}
	if err := session.PublishRaw(topic, retained, payload); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return ErrSessionDown
		}
		return err
	}
	return nil
}

// State returns the connectivity snapshot.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Topics returns the session's topic tree.
func (o *Orchestrator) Topics() mqtt.Topics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.topics
}

// SessionSettings returns the effective session settings, saved
// overrides applied.
func (o *Orchestrator) SessionSettings() mqtt.Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionCfg
}

// UpdateSessionSettings saves new overrides and reconnects on the next
// Tick.
func (o *Orchestrator) UpdateSessionSettings(s *storage.SessionSettings) error {
	if o.deps.Storage == nil {
		return fmt.Errorf("no storage configured")
	}
	if err := o.deps.Storage.SetSession(s); err != nil {
		return fmt.Errorf("failed to save session settings: %w", err)
	}
	return o.enqueue(inbound{kind: kindReconnect, source: "http"})
}

// MACText returns the hardware address as "AA:BB:CC:DD:EE:FF".
func (o *Orchestrator) MACText() string {
	return network.MACText(o.deps.Link.HardwareAddr())
}

// IPText returns the address as "192.168.001.020", or dashes while the
// network is down.
func (o *Orchestrator) IPText() string {
	if !o.State().NetworkUp {
		return network.IPText(nil)
	}
	return network.IPText(o.deps.Link.IP())
}

// TopicText returns the wildcard topic while the session is up, or
// "-/------".
func (o *Orchestrator) TopicText() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.state.SessionUp {
		return "-/------"
	}
	return o.topics.Wildcard()
}

// Shutdown marks the device offline, closes the session and stops the
// status API.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	session, pub, topics := o.session, o.publisher, o.topics
	srv, done := o.server, o.serveDone
	o.session = nil
	o.publisher = nil
	o.state.SessionUp = false
	o.mu.Unlock()

	if session != nil {
		if pub != nil && session.IsConnected() {
			if err := pub.PublishText(topics.LWT(), true, mqtt.PayloadOffline); err != nil {
				o.logger.Debug("failed to publish offline", zap.Error(err))
			}
		}
		session.Disconnect()
	}

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop status API: %w", err)
	}
	<-done
	return nil
}

func (o *Orchestrator) record(t events.EventType, source, details string) {
	if o.deps.Events != nil {
		o.deps.Events.Add(t, source, details)
	}
}
