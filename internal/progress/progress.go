// Package progress models the streamed events the up/destroy pipelines emit:
// phase enumeration, status kinds, and structured log events (§4.P).
//
// Grounded on the teacher's pkg/newtlab/newtlab.go OnProgress(phase, detail
// string) callback signature, generalized here to structured events with a
// kind, phase metadata, and timestamps, and to a broadcaster that fans events
// out to every subscriber of a lab instead of a single callback.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// StatusKind drives client-side rendering.
type StatusKind string

const (
	StatusProgress StatusKind = "progress"
	StatusDone     StatusKind = "done"
	StatusInfo     StatusKind = "info"
	StatusWaiting  StatusKind = "waiting"
)

// UpPhase enumerates the 13 fixed phases of the up pipeline (§4.H). Values
// are the exact phase names surfaced in Status events and in
// UpResponse.PhasesCompleted.
type UpPhase string

const (
	PhaseSetup                 UpPhase = "setup"
	PhaseManifestValidation    UpPhase = "manifest_validation"
	PhaseDatabaseRecords       UpPhase = "database_records"
	PhaseLabNetworkSetup       UpPhase = "lab_network_setup"
	PhasePointToPointLinks     UpPhase = "point_to_point_links"
	PhaseContainerLinkNetworks UpPhase = "container_link_networks"
	PhaseSharedBridgeCreation  UpPhase = "shared_bridge_creation"
	PhaseZTPGeneration         UpPhase = "ztp_generation"
	PhaseBootContainerCreation UpPhase = "boot_container_creation"
	PhaseDiskCloning           UpPhase = "disk_cloning"
	PhaseVMCreation            UpPhase = "vm_creation"
	PhaseSSHConfigGeneration   UpPhase = "ssh_config_generation"
	PhaseNodeReadinessCheck    UpPhase = "node_readiness_check"
)

// Phases is the fixed, ordered phase table; TotalPhases is its length (13).
var Phases = []UpPhase{
	PhaseSetup, PhaseManifestValidation, PhaseDatabaseRecords, PhaseLabNetworkSetup,
	PhasePointToPointLinks, PhaseContainerLinkNetworks, PhaseSharedBridgeCreation,
	PhaseZTPGeneration, PhaseBootContainerCreation, PhaseDiskCloning, PhaseVMCreation,
	PhaseSSHConfigGeneration, PhaseNodeReadinessCheck,
}

var TotalPhases = len(Phases)

// Critical reports whether a phase failure must abort the pipeline.
func (p UpPhase) Critical() bool {
	switch p {
	case PhaseContainerLinkNetworks, PhaseSharedBridgeCreation, PhaseSSHConfigGeneration, PhaseNodeReadinessCheck:
		return false
	default:
		return true
	}
}

// Number returns the phase's 1-based position in the fixed 13-phase table.
func (p UpPhase) Number() int {
	for i, ph := range Phases {
		if ph == p {
			return i + 1
		}
	}
	return 0
}

// StatusProgress carries the phase counter shown alongside a Status message.
type StatusProgress struct {
	CurrentPhase string `json:"current_phase"`
	PhaseNumber  int    `json:"phase_number"`
	TotalPhases  int    `json:"total_phases"`
}

// Status is one progress update pushed to a WebSocket connection.
type Status struct {
	Kind      StatusKind      `json:"kind"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Phase     string          `json:"phase,omitempty"`
	Progress  *StatusProgress `json:"progress,omitempty"`
}

// LogLevel mirrors logrus levels with the lowercase wire representation
// confirmed against original_source's messages.rs LogLevel enum.
type LogLevel string

const (
	LogTrace LogLevel = "trace"
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEvent is one streamed log line.
type LogEvent struct {
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// ForPhase builds the Status event emitted on entry to phase.
func ForPhase(phase UpPhase, message string) Status {
	return Status{
		Kind:      StatusProgress,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Phase:     string(phase),
		Progress: &StatusProgress{
			CurrentPhase: string(phase),
			PhaseNumber:  phase.Number(),
			TotalPhases:  TotalPhases,
		},
	}
}

// Done builds the terminal Status event for a successful pipeline run.
func Done(message string) Status {
	return Status{Kind: StatusDone, Message: message, Timestamp: time.Now().UTC()}
}

// Sink receives events for one lab. The WebSocket transport (internal/wsapi)
// implements Sink per connection. The optional cross-instance Redis mirror
// is not a Sink: the Broadcaster feeds it through RedisPublisher (below).
type Sink interface {
	Status(labID string, s Status)
	Log(labID string, l LogEvent)
}

// Broadcaster fans events for a lab out to every subscribed Sink. It is the
// concrete type the pipeline writes to; WebSocket connections register
// themselves as subscribers for the duration of a streamed RPC.
//
// Grounded on the teacher's single-callback OnProgress, generalized to a
// one-to-many subscriber registry since multiple WebSocket connections (or a
// Redis mirror) may want the same lab's events concurrently.
type Broadcaster struct {
	mu    sync.RWMutex
	subs  map[string]map[int]Sink
	nextID int
	redis RedisPublisher
}

// RedisPublisher is the minimal surface the Broadcaster needs from a Redis
// client to mirror events onto a pub/sub channel; satisfied by
// *redis.Client's Publish method. Kept as an interface so the Broadcaster
// has no hard Redis dependency when mirroring is disabled.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// NewBroadcaster creates a Broadcaster. redisPub may be nil to disable the
// optional cross-instance Redis mirror (internal/config Redis.Enabled=false,
// the default).
func NewBroadcaster(redisPub RedisPublisher) *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]Sink), redis: redisPub}
}

// Subscribe registers sink for labID's events and returns an unsubscribe
// function.
func (b *Broadcaster) Subscribe(labID string, sink Sink) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[labID] == nil {
		b.subs[labID] = make(map[int]Sink)
	}
	id := b.nextID
	b.nextID++
	b.subs[labID][id] = sink
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[labID], id)
		if len(b.subs[labID]) == 0 {
			delete(b.subs, labID)
		}
	}
}

// PublishStatus delivers s to every local subscriber of labID and, if a
// Redis publisher is configured, mirrors it onto "sherpa:events:<lab_id>".
func (b *Broadcaster) PublishStatus(ctx context.Context, labID string, s Status) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.subs[labID]))
	for _, sink := range b.subs[labID] {
		sinks = append(sinks, sink)
	}
	b.mu.RUnlock()
	for _, sink := range sinks {
		sink.Status(labID, s)
	}
	b.mirror(ctx, labID, "status", s)
}

// PublishLog delivers l the same way PublishStatus delivers a Status.
func (b *Broadcaster) PublishLog(ctx context.Context, labID string, l LogEvent) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.subs[labID]))
	for _, sink := range b.subs[labID] {
		sinks = append(sinks, sink)
	}
	b.mu.RUnlock()
	for _, sink := range sinks {
		sink.Log(labID, l)
	}
	b.mirror(ctx, labID, "log", l)
}

func (b *Broadcaster) mirror(ctx context.Context, labID, kind string, payload interface{}) {
	if b.redis == nil {
		return
	}
	data, err := json.Marshal(struct {
		Kind    string      `json:"kind"`
		Payload interface{} `json:"payload"`
	}{Kind: kind, Payload: payload})
	if err != nil {
		util.WithLab(labID).WithError(err).Warn("progress: marshal redis mirror payload")
		return
	}
	if err := b.redis.Publish(ctx, "sherpa:events:"+labID, data); err != nil {
		util.WithLab(labID).WithError(err).Debug("progress: redis mirror publish failed")
	}
}

// LoggerSink adapts the package-wide logrus logger into a Sink, so a lab's
// events can be written to the daemon log instead of a WebSocket
// connection. Nothing in sherpad subscribes one by default.
type LoggerSink struct{}

func (LoggerSink) Status(labID string, s Status) {
	util.WithLab(labID).WithField("phase", s.Phase).Info(s.Message)
}

func (LoggerSink) Log(labID string, l LogEvent) {
	entry := util.WithLab(labID)
	switch l.Level {
	case LogTrace:
		entry.Trace(l.Message)
	case LogDebug:
		entry.Debug(l.Message)
	case LogWarn:
		entry.Warn(l.Message)
	case LogError:
		entry.Error(l.Message)
	default:
		entry.Info(l.Message)
	}
}
