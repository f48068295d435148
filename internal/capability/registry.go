// Package capability announces recognizer nodes on the bus and tracks the
// peers it hears from.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-recognizer/internal/bus"
	"github.com/loqalabs/loqa-recognizer/internal/config"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/loqalabs/loqa-recognizer/internal/protocol"
)

type Capability = protocol.Capability

// SpeechCapability is the capability name advertised by recognizer nodes.
const SpeechCapability = "stt"

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	State        string       `json:"state"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

// Local describes the node this process announces.
type Local struct {
	ID           string
	Role         string
	Capabilities []Capability
	// State reports the recognizer lifecycle state carried by heartbeats.
	State func() string
}

// Speech describes a local recognizer decoding with models.
func Speech(engineMode string, models engine.Models) Capability {
	return Capability{
		Name: SpeechCapability,
		Tier: "local",
		Attributes: map[string]string{
			"engine": engineMode,
			"hmm":    models.HMM,
			"lm":     models.LM,
			"dict":   models.Dict,
		},
	}
}

type Registry struct {
	local    Local
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	bus      *bus.Client

	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	subs      []*nats.Subscription
	metrics   metric.Registration
	closeOnce sync.Once
}

// NewRegistry subscribes to peer traffic, announces local and starts the
// heartbeat. Close stops it.
func NewRegistry(ctx context.Context, local Local, cfg config.PresenceConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if busClient == nil {
		return nil, fmt.Errorf("capability registry requires a bus connection")
	}
	if local.State == nil {
		local.State = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		local:    local,
		interval: time.Duration(cfg.HeartbeatInterval) * time.Millisecond,
		timeout:  time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		log:      log.With(slog.String("component", "capability-registry")),
		bus:      busClient,
		nodes:    make(map[string]*NodeInfo),
		cancel:   cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

// Close publishes a last heartbeat and stops tracking peers. It is safe to
// call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		if err := r.publishHeartbeat(); err != nil {
			r.log.Debug("final heartbeat not sent", slog.String("error", err.Error()))
		}
		for _, sub := range r.subs {
			_ = sub.Unsubscribe()
		}
		if r.metrics != nil {
			_ = r.metrics.Unregister()
		}
	})
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth(time.Now())
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.NodeAnnouncement{
		NodeID:       r.local.ID,
		Role:         r.local.Role,
		Capabilities: r.local.Capabilities,
		State:        r.local.State(),
		Timestamp:    time.Now().UTC(),
	}
	if err := r.bus.Publish(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.State, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.NodeHeartbeat{
		NodeID:    r.local.ID,
		State:     r.local.State(),
		Timestamp: time.Now().UTC(),
	}
	if err := r.bus.Publish(protocol.SubjectNodeHeartbeatPrefix+"."+r.local.ID, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, "", nil, msg.State, msg.Timestamp)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" || announcement.NodeID == r.local.ID {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	isNew := r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.State, announcement.Timestamp)
	// Late joiners only hear announcements made after they subscribed.
	if isNew {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to re-announce node", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" || hb.NodeID == r.local.ID {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.State, hb.Timestamp)
}

// updateNode reports whether nodeID was unknown before.
func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, state string, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	if state != "" {
		node.State = state
	}
	node.LastSeen = seen
	node.Healthy = true
	return !ok
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > r.timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node's own heartbeat is current. It
// turns false once heartbeats stop, including after Close.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.local.ID]
	return ok && node.Healthy && time.Since(node.LastSeen) <= r.timeout
}

// Query returns copies of the known nodes accepted by every filter, sorted
// by ID.
func (r *Registry) Query(filters ...func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
nodes:
	for _, node := range r.nodes {
		n := *node
		n.Capabilities = append([]Capability(nil), node.Capabilities...)
		for _, keep := range filters {
			if keep != nil && !keep(n) {
				continue nodes
			}
		}
		results = append(results, n)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-recognizer/capability")
	nodeGauge, err := meter.Int64ObservableGauge("loqa.recognizer.nodes",
		metric.WithDescription("Recognizer nodes currently healthy"))
	if err != nil {
		return err
	}
	capGauge, err := meter.Int64ObservableGauge("loqa.recognizer.capabilities",
		metric.WithDescription("Capabilities advertised by healthy nodes"))
	if err != nil {
		return err
	}
	reg, err := meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, caps := r.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(capGauge, caps)
		return nil
	}, nodeGauge, capGauge)
	if err != nil {
		return err
	}
	r.metrics = reg
	return nil
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes, caps int64
	for _, node := range r.nodes {
		if !node.Healthy {
			continue
		}
		nodes++
		caps += int64(len(node.Capabilities))
	}
	return nodes, caps
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func WithStateFilter(state string) func(NodeInfo) bool {
	return func(node NodeInfo) bool { return node.State == state }
}

func HealthyOnly(node NodeInfo) bool { return node.Healthy }
