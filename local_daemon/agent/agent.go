// Package agent implements the Node Agent HTTP surface (spec 4.H): the
// gin-based control plane that exposes session lifecycle, tag
// management, health/status, and Prometheus metrics, plus the
// supporting event fan-out, ban list, and preemption watcher.
package agent

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/opentracing/opentracing-go"

	"github.com/dreamworksanimation/arras4-node/common/consul"
	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/common/tracing"
	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
	"github.com/dreamworksanimation/arras4-node/local_daemon/ipc"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

// HardwareFeatures is the read-only capability probe surfaced on the
// status endpoint (supplements spec 4.H's status payload with the
// host's CPU/memory envelope).
type HardwareFeatures struct {
	CPUs          int   `json:"cpus"`
	TotalMemoryMB int64 `json:"totalMemoryMB"`
}

// probeHardware reads the host's core count and total memory. Memory
// comes from /proc/meminfo; a failure there yields a zero value rather
// than an error, since the status endpoint must not fail just because
// this one field is unavailable (e.g. non-Linux hosts).
func probeHardware() HardwareFeatures {
	hw := HardwareFeatures{CPUs: runtime.NumCPU()}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return hw
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err == nil {
			hw.TotalMemoryMB = kb / 1024
		}
		break
	}
	return hw
}

// StatusResponse is the body of GET /node/1/status (spec §6: "as
// health + apiVersion, idle timings, banlist summary").
type StatusResponse struct {
	Status       string           `json:"status"`
	APIVersion   string           `json:"apiVersion"`
	NodeId       string           `json:"nodeId"`
	ShutdownMode string           `json:"shutdownMode"`
	Tags         map[string]string `json:"tags"`
	Hardware     HardwareFeatures `json:"hardware"`
	UptimeSec    int64            `json:"uptimeSeconds"`
	BanlistSummary BanlistSummary `json:"banlistSummary"`
}

// apiVersion is reported on the status endpoint.
const apiVersion = "1"

// NodeAgent ties the Session Manager, event fan-out, ban list,
// preemption watcher, HTTP surface, and service discovery registration
// together into the single process that represents this host to the
// orchestrator (spec 4.H). Grounded on the teacher's daemon.go
// top-level struct shape: one object per process holding every
// subsystem, with Run/Close lifecycle methods.
type NodeAgent struct {
	nodeId  ids.NodeId
	options *domain.NodeAgentOptions

	sessions *session.Manager
	events   *EventQueue
	bans     *BanList
	metrics  *Metrics
	server   *Server

	preemption *PreemptionWatcher
	discovery  *consul.Client

	tagsMu         sync.Mutex
	tags           map[string]string
	tagUpdateInFlight bool

	shutdownMode atomic.Value // domain.ShutdownMode

	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	log logger.Logger
}

// New constructs a NodeAgent. router is the agent's connection to its
// co-located router process over the control-plane IPC socket (spec §6
// "Router <-> Agent IPC").
func New(nodeId ids.NodeId, options *domain.NodeAgentOptions, router session.RouterClient, factory session.SupervisorFactory) (*NodeAgent, error) {
	a := &NodeAgent{
		nodeId:    nodeId,
		options:   options,
		tags:      make(map[string]string, len(options.Tags)),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
	config.InitLogger(&a.log, a)
	a.shutdownMode.Store(domain.ShutdownModeNone)
	for k, v := range options.Tags {
		a.tags[k] = v
	}

	metrics, err := NewMetrics(nodeId.String())
	if err != nil {
		return nil, err
	}
	a.metrics = metrics

	onShutdown := func(reason string) {
		a.log.Error("shutting down due to unrecoverable error: %s", reason)
		a.setShutdownMode(domain.ShutdownModeShutdown)
	}
	a.events = NewEventQueue(NewHTTPOrchestratorClient(options.OrchestratorURL, 10*time.Second), onShutdown, 256)
	a.bans = NewBanList(options.BanThreshold, time.Duration(options.BanWindowSec)*time.Second)

	var tracer opentracing.Tracer
	if options.JaegerAddr != "" {
		tracer, err = tracing.Init("arras-node", options.JaegerAddr)
		if err != nil {
			return nil, fmt.Errorf("initializing tracer: %w", err)
		}
	}

	registerTimeout := time.Duration(options.RouterRegisterTimeoutSec) * time.Second
	a.sessions = session.NewManager(nodeId, router, factory, a.events, tracer, registerTimeout)

	if options.PreemptionPollIntervalSec > 0 {
		a.preemption = NewPreemptionWatcher(time.Duration(options.PreemptionPollIntervalSec)*time.Second, func(verdict string) {
			a.log.Warn("preemption verdict %q observed, shutting down", verdict)
			a.setShutdownMode(domain.ShutdownModeShutdown)
		})
	}

	if options.ConsulAddr != "" {
		client, err := consul.NewClient(options.ConsulAddr)
		if err != nil {
			return nil, fmt.Errorf("connecting to service discovery: %w", err)
		}
		a.discovery = client
	}

	a.server = NewServer(a)
	return a, nil
}

// Run starts the event worker and, if configured, the preemption
// watcher, then blocks serving HTTP until Close is called.
func (a *NodeAgent) Run(port int) error {
	boundPort, err := a.server.Listen(port)
	if err != nil {
		return err
	}
	a.log.Info("node agent %s listening on port %d", a.nodeId, boundPort)

	go a.events.Run(a.stop)
	if a.preemption != nil {
		go a.preemption.Run(a.stop)
	}

	if a.discovery != nil {
		if err := a.discovery.RegisterService("arras-node", a.nodeId.String(), "", boundPort, 10); err != nil {
			a.log.Error("failed to register with service discovery: %s", err)
		}
	}

	return a.server.Serve()
}

// Close performs the orderly shutdown named in spec 4.J: tear down
// every session within deadline, drain the event queue, deregister
// from service discovery, and stop serving HTTP.
func (a *NodeAgent) Close(reason string, deadline time.Duration) []error {
	var errs []error

	errs = append(errs, a.sessions.ShutdownAll(reason, deadline)...)

	if !a.events.DrainTimeout(deadline) {
		errs = append(errs, fmt.Errorf("event queue did not drain within %s", deadline))
	}

	if a.discovery != nil && a.shutdownModeValue() != domain.ShutdownModeUnregistered {
		if err := a.discovery.DeregisterService(a.nodeId.String()); err != nil {
			errs = append(errs, fmt.Errorf("NodeDeregisterFailed: %w", err))
		}
	}

	a.stopOnce.Do(func() { close(a.stop) })
	if err := a.server.Shutdown(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (a *NodeAgent) isClosed() bool {
	mode := a.shutdownModeValue()
	return mode == domain.ShutdownModeClose || mode == domain.ShutdownModeShutdown || mode == domain.ShutdownModeUnregistered
}

func (a *NodeAgent) shutdownModeValue() domain.ShutdownMode {
	return a.shutdownMode.Load().(domain.ShutdownMode)
}

// setShutdownMode applies one of the three distinct transitions named
// in spec §6 R3/SPEC_FULL.md Supplemented Feature #3: shutdown tears
// every session down now, close stops accepting new sessions while
// continuing to serve existing ones, and unregistered deregisters from
// discovery without a drain.
func (a *NodeAgent) setShutdownMode(mode domain.ShutdownMode) {
	a.shutdownMode.Store(mode)

	switch mode {
	case domain.ShutdownModeShutdown:
		go a.Close("shutdown requested", 30*time.Second)
	case domain.ShutdownModeUnregistered:
		if a.discovery != nil {
			if err := a.discovery.DeregisterService(a.nodeId.String()); err != nil {
				a.log.Error("NodeDeregisterFailed: %s", err)
			}
		}
	case domain.ShutdownModeClose:
		// New sessions are rejected by isClosed(); existing sessions are
		// left running until their own lifecycle ends them.
	}
}

// checkHealth runs both health checks named in spec §6.
func (a *NodeAgent) checkHealth() error {
	socketPath := ipc.SocketPath(a.options.IPCDir, a.nodeId)
	if err := checkIPCSocket(socketPath, domain.IPCSocketPermission); err != nil {
		return err
	}
	return checkRootPartition(domain.DefaultRootPartitionMaxUsage)
}

// Status builds the GET /node/1/status response.
func (a *NodeAgent) Status() StatusResponse {
	status := "UP"
	if err := a.checkHealth(); err != nil {
		status = "DOWN"
	}

	a.tagsMu.Lock()
	tags := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		tags[k] = v
	}
	a.tagsMu.Unlock()

	a.metrics.BannedSourcesGauge.Set(float64(a.bans.Summary().BannedSources))

	return StatusResponse{
		Status:         status,
		APIVersion:     apiVersion,
		NodeId:         a.nodeId.String(),
		ShutdownMode:   string(a.shutdownModeValue()),
		Tags:           tags,
		Hardware:       probeHardware(),
		UptimeSec:      int64(time.Since(a.startedAt).Seconds()),
		BanlistSummary: a.bans.Summary(),
	}
}

// updateTags applies a tag delta after validating the cross-field
// rules (spec §6 PUT /node/tags). Rejects a concurrent update with
// ErrUpdateAlreadyRunning per spec 4.H's "updating" flag serialization.
func (a *NodeAgent) updateTags(update map[string]string) error {
	a.tagsMu.Lock()
	if a.tagUpdateInFlight {
		a.tagsMu.Unlock()
		return domain.ErrUpdateAlreadyRunning
	}
	a.tagUpdateInFlight = true
	existing := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		existing[k] = v
	}
	a.tagsMu.Unlock()

	defer func() {
		a.tagsMu.Lock()
		a.tagUpdateInFlight = false
		a.tagsMu.Unlock()
	}()

	if err := domain.ValidateTagUpdate(existing, update); err != nil {
		return err
	}

	a.tagsMu.Lock()
	for k, v := range update {
		a.tags[k] = v
	}
	merged := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		merged[k] = v
	}
	a.tagsMu.Unlock()

	if a.discovery != nil {
		return a.discovery.UpdateNodeInfo(a.nodeId.String(), merged)
	}
	return nil
}

// deleteTags removes the named tags, re-validating the remaining set.
func (a *NodeAgent) deleteTags(names []string) error {
	a.tagsMu.Lock()
	if a.tagUpdateInFlight {
		a.tagsMu.Unlock()
		return domain.ErrUpdateAlreadyRunning
	}
	a.tagUpdateInFlight = true
	remaining := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		remaining[k] = v
	}
	for _, name := range names {
		delete(remaining, name)
	}
	a.tagsMu.Unlock()

	defer func() {
		a.tagsMu.Lock()
		a.tagUpdateInFlight = false
		a.tagsMu.Unlock()
	}()

	if err := domain.ValidateTagUpdate(remaining, nil); err != nil {
		return err
	}

	a.tagsMu.Lock()
	for _, name := range names {
		delete(a.tags, name)
	}
	merged := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		merged[k] = v
	}
	a.tagsMu.Unlock()

	if a.discovery != nil {
		return a.discovery.UpdateNodeInfo(a.nodeId.String(), merged)
	}
	return nil
}
