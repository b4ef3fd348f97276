// Package commandbus is the single entry point the shell-facing surface
// (HTTP handlers in cmd/obscore, or any other frontend) drives the core
// through (§6). It owns mode selection (Master|Slave), the BC-API session,
// and the lifecycle of whichever engine the current mode requires.
package commandbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"obscore/internal/bcapi"
	"obscore/internal/broadcast"
	"obscore/internal/masterengine"
	"obscore/internal/metrics"
	"obscore/internal/protocol"
	"obscore/internal/slaveengine"
	"obscore/pkg/logging"
)

// AppMode selects which half of the replication pipeline is active.
type AppMode string

const (
	ModeNone  AppMode = "none"
	ModeMaster AppMode = "master"
	ModeSlave AppMode = "slave"
)

// Error is returned for LifecycleError conditions (§7) — an operation
// invoked in the wrong mode or before its prerequisite has been set up.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

func lifecycleError(format string, args ...interface{}) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// ObsConfig configures the BC-API connection.
type ObsConfig struct {
	Host     string
	Port     int
	Password string
}

// MasterConfig configures start_master_server.
type MasterConfig struct {
	Port int
}

// SlaveConfig configures connect_to_master.
type SlaveConfig struct {
	Host        string
	Port        int
	MaxAttempts int
}

// Bus is the command surface's backing state. Zero value is not usable;
// construct with New.
type Bus struct {
	logger  logging.Logger
	metrics *metrics.Registry

	mu   sync.RWMutex
	mode AppMode
	obs  *bcapi.Client

	master   *masterengine.Engine
	server   *broadcast.Server
	masterCtx    context.Context
	masterCancel context.CancelFunc

	slaveSupervisor *slaveengine.Supervisor
	slaveDetector   *slaveengine.DriftDetector
	slaveCtx        context.Context
	slaveCancel     context.CancelFunc

	onAlert func(slaveengine.Alert)
}

// New constructs an idle Bus.
func New(logger logging.Logger, mr *metrics.Registry, onAlert func(slaveengine.Alert)) *Bus {
	return &Bus{logger: logger, metrics: mr, mode: ModeNone, onAlert: onAlert}
}

// ConnectObs establishes the BC-API session used by whichever engine the
// current mode requires.
func (b *Bus) ConnectObs(ctx context.Context, cfg ObsConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obs := bcapi.New(bcapi.DefaultConfig(cfg.Host, cfg.Port, cfg.Password), b.logger)
	if err := obs.Connect(ctx); err != nil {
		return err
	}
	b.obs = obs
	return nil
}

// DisconnectObs closes the BC-API session.
func (b *Bus) DisconnectObs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.obs != nil {
		b.obs.Disconnect()
	}
}

// ObsStatus reports whether the BC-API session is currently open.
func (b *Bus) ObsStatus() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.obs != nil && b.obs.Connected()
}

// SetAppMode switches between Master and Slave. Switching modes while an
// engine is running for the other mode is rejected as a LifecycleError; the
// caller must stop the running engine first.
func (b *Bus) SetAppMode(mode AppMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == ModeMaster && b.server != nil {
		return lifecycleError("cannot change mode while master server is running")
	}
	if b.mode == ModeSlave && b.slaveSupervisor != nil {
		return lifecycleError("cannot change mode while connected to master")
	}
	b.mode = mode
	return nil
}

// GetAppMode returns the currently selected mode.
func (b *Bus) GetAppMode() AppMode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// StartMasterServer starts the broadcast server and master sync engine.
// Requires ConnectObs to have succeeded and mode to be Master.
func (b *Bus) StartMasterServer(ctx context.Context, cfg MasterConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode != ModeMaster {
		return lifecycleError("start_master_server requires app mode Master")
	}
	if b.obs == nil {
		return lifecycleError("start_master_server requires a connected BC-API session")
	}
	if b.server != nil {
		return lifecycleError("master server already running")
	}

	master := masterengine.New(b.obs, b.logger)
	b.master = master
	b.server = broadcast.New(b.logger, func(clientID string) {
		// Grace delay so the new slave's reader is ready before the snapshot.
		time.Sleep(100 * time.Millisecond)
		_ = master.SendInitialState(context.Background())
	})

	b.masterCtx, b.masterCancel = context.WithCancel(ctx)
	b.master.StartMonitoring(b.masterCtx, b.obs.Events())
	b.server.Start(b.master.Outbound())

	b.logger.WithFields(logging.Fields{"port": cfg.Port}).Info("master server started")
	return nil
}

// StopMasterServer tears down the broadcast server and master engine.
func (b *Bus) StopMasterServer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server == nil {
		return lifecycleError("no master server running")
	}
	b.server.Stop()
	if b.masterCancel != nil {
		b.masterCancel()
	}
	b.server = nil
	b.master = nil
	return nil
}

// ConnectToMaster starts the slave connection supervisor and drift detector.
// Requires ConnectObs to have succeeded and mode to be Slave.
func (b *Bus) ConnectToMaster(ctx context.Context, cfg SlaveConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode != ModeSlave {
		return lifecycleError("connect_to_master requires app mode Slave")
	}
	if b.obs == nil {
		return lifecycleError("connect_to_master requires a connected BC-API session")
	}
	if b.slaveSupervisor != nil {
		return lifecycleError("already connected to a master")
	}

	projection := slaveengine.NewProjection()
	applier := slaveengine.NewApplier(b.obs, projection, slaveengine.DefaultImageCacheDir(), b.onAlert, b.logger)

	sup := slaveengine.NewSupervisor(slaveengine.SupervisorConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		MaxAttempts: cfg.MaxAttempts,
	}, applier, b.logger)

	b.slaveCtx, b.slaveCancel = context.WithCancel(ctx)
	b.slaveSupervisor = sup
	b.slaveDetector = slaveengine.NewDriftDetector(b.obs, projection, slaveengine.DefaultDriftInterval, sup.Upstream(), b.onAlert, b.logger)

	go sup.Run(b.slaveCtx)
	go b.slaveDetector.Run(b.slaveCtx)
	return nil
}

// DisconnectFromMaster stops the slave's connection supervisor.
func (b *Bus) DisconnectFromMaster() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slaveSupervisor == nil {
		return lifecycleError("not connected to a master")
	}
	b.slaveSupervisor.Disconnect()
	if b.slaveCancel != nil {
		b.slaveCancel()
	}
	b.slaveSupervisor = nil
	b.slaveDetector = nil
	return nil
}

// SetSyncTargets replaces the master engine's active target set.
func (b *Bus) SetSyncTargets(targets []protocol.TargetType) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.master == nil {
		return lifecycleError("set_sync_targets requires a running master server")
	}
	b.master.SetActiveTargets(targets)
	return nil
}

// GetConnectedClientsCount is the fast-path roster query.
func (b *Bus) GetConnectedClientsCount() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil {
		return 0, lifecycleError("no master server running")
	}
	return b.server.Count(), nil
}

// GetConnectedClientsInfo returns the full client roster.
func (b *Bus) GetConnectedClientsInfo() (map[string]broadcast.ClientInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil {
		return nil, lifecycleError("no master server running")
	}
	return b.server.ClientsInfo(), nil
}

// GetSlaveStatuses returns the most recent StateReport from every slave.
func (b *Bus) GetSlaveStatuses() (map[string]broadcast.SlaveStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil {
		return nil, lifecycleError("no master server running")
	}
	return b.server.SlaveStatuses(), nil
}

// ResyncAllSlaves pushes a fresh StateSync to every connected slave.
func (b *Bus) ResyncAllSlaves(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.master == nil {
		return lifecycleError("resync_all_slaves requires a running master server")
	}
	return b.master.SendInitialState(ctx)
}

// ResyncSpecificSlave sends a fresh StateSync on behalf of one client_id,
// through the same path as ResyncAllSlaves. The master
// broadcasts identically to all clients (§4.D), so this is best-effort: it
// re-sends the same StateSync that every client receives.
func (b *Bus) ResyncSpecificSlave(ctx context.Context, clientID string) error {
	return b.ResyncAllSlaves(ctx)
}

// RequestResyncFromMaster enqueues an explicit StateSyncRequest upstream
// from the slave side.
func (b *Bus) RequestResyncFromMaster() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.slaveSupervisor == nil {
		return lifecycleError("request_resync_from_master requires an active master connection")
	}
	b.slaveSupervisor.RequestResync()
	return nil
}

// ServeWS upgrades an incoming slave connection when a master server is
// running. Wire as the handler for the wire protocol's "/" path (§6).
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	srv := b.server
	b.mu.RUnlock()
	if srv == nil {
		http.Error(w, "no master server running", http.StatusServiceUnavailable)
		return
	}
	srv.ServeWS(w, r)
}

// GetSlaveReconnectionStatus reports the connection supervisor's current
// backoff state.
func (b *Bus) GetSlaveReconnectionStatus() (slaveengine.ReconnectionStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.slaveSupervisor == nil {
		return slaveengine.ReconnectionStatus{}, lifecycleError("not connected to a master")
	}
	return b.slaveSupervisor.Status(), nil
}
