// Command obscore runs the state-replication core as a standalone service:
// a master broadcasting scene-graph changes to connected slaves, or a slave
// mirroring a master's state into its local broadcasting application.
//
// Grounded on cmd/signalman/main.go's wiring shape (logger, env load, health
// checker, metrics collector, gin router, graceful HTTP shutdown) with the
// Kafka/gRPC/Quartermaster-specific parts replaced by the command-bus JSON
// mirror and the master-slave websocket handshake this service actually
// needs.
package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"obscore/internal/commandbus"
	"obscore/internal/metrics"
	"obscore/internal/protocol"
	"obscore/internal/slaveengine"
	"obscore/pkg/config"
	"obscore/pkg/logging"
	"obscore/pkg/monitoring"
	"obscore/pkg/server"
	"obscore/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("obscore")
	config.LoadEnv(logger)

	logger.Info("starting obscore")

	healthChecker := monitoring.NewHealthChecker("obscore", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("obscore", version.Version, version.GitCommit)
	domainMetrics := metrics.NewRegistry(metricsCollector)

	bus := commandbus.New(logger, domainMetrics, func(a slaveengine.Alert) {
		logger.WithFields(logging.Fields{
			"severity": a.Severity,
		}).Warn("desync-alert: " + a.Message)
	})

	mode := commandbus.AppMode(config.GetEnv("OBSCORE_MODE", string(commandbus.ModeNone)))
	if mode != commandbus.ModeNone {
		if err := bus.SetAppMode(mode); err != nil {
			logger.WithError(err).Fatal("failed to set initial app mode")
		}
	}

	bcHost := config.GetEnv("OBSCORE_BC_HOST", "localhost")
	bcPort := config.GetEnvInt("OBSCORE_BC_PORT", 4455)
	bcPassword := config.GetEnv("OBSCORE_BC_PASSWORD", "")

	ctx := context.Background()

	switch mode {
	case commandbus.ModeMaster:
		if err := bus.ConnectObs(ctx, commandbus.ObsConfig{Host: bcHost, Port: bcPort, Password: bcPassword}); err != nil {
			logger.WithError(err).Warn("failed to connect to BC-API at startup; retry via connect_obs")
		} else if err := bus.StartMasterServer(ctx, commandbus.MasterConfig{Port: config.GetEnvInt("OBSCORE_PORT", 8080)}); err != nil {
			logger.WithError(err).Warn("failed to start master server at startup")
		}

	case commandbus.ModeSlave:
		if err := bus.ConnectObs(ctx, commandbus.ObsConfig{Host: bcHost, Port: bcPort, Password: bcPassword}); err != nil {
			logger.WithError(err).Warn("failed to connect to BC-API at startup; retry via connect_obs")
		} else {
			slaveCfg := commandbus.SlaveConfig{
				Host:        config.GetEnv("OBSCORE_MASTER_HOST", "localhost"),
				Port:        config.GetEnvInt("OBSCORE_MASTER_PORT", 8080),
				MaxAttempts: config.GetEnvInt("OBSCORE_MAX_RECONNECT_ATTEMPTS", slaveengine.DefaultMaxReconnectAttempts),
			}
			if err := bus.ConnectToMaster(ctx, slaveCfg); err != nil {
				logger.WithError(err).Warn("failed to connect to master at startup")
			}
		}
	}

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"OBSCORE_MODE": string(mode),
	}))
	healthChecker.AddCheck("bc_api", monitoring.ConnectivityHealthCheck("bc_api", func() error {
		if !bus.ObsStatus() {
			return http.ErrServerClosed
		}
		return nil
	}))

	router := server.SetupServiceRouter(logger, "obscore", healthChecker, metricsCollector)
	registerCommandRoutes(router, bus, logger)

	if mode == commandbus.ModeMaster {
		router.GET("/", func(c *gin.Context) { bus.ServeWS(c.Writer, c.Request) })
	}

	serverConfig := server.DefaultConfig("obscore", "8080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("HTTP server startup failed")
	}
}

// registerCommandRoutes mirrors the shell-facing command surface (§6) as a
// thin JSON API for deployments with no embedding shell.
func registerCommandRoutes(router *gin.Engine, bus *commandbus.Bus, logger logging.Logger) {
	group := router.Group("/commands")

	group.POST("/connect_obs", func(c *gin.Context) {
		var req commandbus.ObsConfig
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := bus.ConnectObs(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true})
	})

	group.POST("/disconnect_obs", func(c *gin.Context) {
		bus.DisconnectObs()
		c.JSON(http.StatusOK, gin.H{"connected": false})
	})

	group.GET("/obs_status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connected": bus.ObsStatus()})
	})

	group.POST("/app_mode", func(c *gin.Context) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := bus.SetAppMode(commandbus.AppMode(req.Mode)); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
	})

	group.GET("/app_mode", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": bus.GetAppMode()})
	})

	group.POST("/start_master_server", func(c *gin.Context) {
		var req commandbus.MasterConfig
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := bus.StartMasterServer(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"started": true})
	})

	group.POST("/stop_master_server", func(c *gin.Context) {
		if err := bus.StopMasterServer(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stopped": true})
	})

	group.POST("/connect_to_master", func(c *gin.Context) {
		var req commandbus.SlaveConfig
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := bus.ConnectToMaster(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true})
	})

	group.POST("/disconnect_from_master", func(c *gin.Context) {
		if err := bus.DisconnectFromMaster(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": false})
	})

	group.POST("/sync_targets", func(c *gin.Context) {
		var req struct {
			Targets []protocol.TargetType `json:"targets"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := bus.SetSyncTargets(req.Targets); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"targets": req.Targets})
	})

	group.GET("/connected_clients_count", func(c *gin.Context) {
		count, err := bus.GetConnectedClientsCount()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	})

	group.GET("/connected_clients_info", func(c *gin.Context) {
		info, err := bus.GetConnectedClientsInfo()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	group.GET("/slave_statuses", func(c *gin.Context) {
		statuses, err := bus.GetSlaveStatuses()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, statuses)
	})

	group.POST("/resync_all_slaves", func(c *gin.Context) {
		if err := bus.ResyncAllSlaves(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resynced": true})
	})

	group.POST("/resync_specific_slave/:client_id", func(c *gin.Context) {
		if err := bus.ResyncSpecificSlave(c.Request.Context(), c.Param("client_id")); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resynced": true})
	})

	group.POST("/request_resync_from_master", func(c *gin.Context) {
		if err := bus.RequestResyncFromMaster(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requested": true})
	})

	group.GET("/slave_reconnection_status", func(c *gin.Context) {
		status, err := bus.GetSlaveReconnectionStatus()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	})
}
