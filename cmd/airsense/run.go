package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"airsense/internal/api"
	"airsense/internal/auth"
	"airsense/internal/buildinfo"
	"airsense/internal/config"
	"airsense/internal/connectivity"
	"airsense/internal/coordinator"
	"airsense/internal/display"
	"airsense/internal/events"
	"airsense/internal/input"
	"airsense/internal/mqtt"
	"airsense/internal/network"
	"airsense/internal/sensors"
	"airsense/internal/storage"
	"airsense/internal/system"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the device loop and the status API",
	Args:  cobra.NoArgs,
	RunE:  runDevice,
}

func runDevice(cmd *cobra.Command, args []string) error {
	start := time.Now()
	fw := buildinfo.Current()
	logger.Info("starting", zap.String("firmware", fw.ShortName), zap.String("version", fw.Version), zap.String("config", cfg.FilePath()))

	store, err := storage.NewBoltStorage(cfg.Storage().Path)
	if err != nil {
		return err
	}
	defer store.Close()

	eventStore := events.NewStore(cfg.Storage().EventHistory)
	if err := eventStore.WithPersister(store); err != nil {
		logger.Warn("failed to load event history", zap.Error(err))
	}

	pm, gas, err := newSensorSources(cfg.Sensors())
	if err != nil {
		return err
	}
	keeper := sensors.NewCalibrationKeeper(store, gas, start, logger.Named("calibration"))
	keeper.OnSave = func() {
		eventStore.Add(events.EventCalibration, "sensor", "")
	}
	if err := keeper.Restore(); err != nil {
		logger.Warn("failed to restore gas calibration", zap.Error(err))
	}
	reader := sensors.NewReader(pm, gas).WithCalibration(keeper)

	counters := system.NewCounterSource(start, store.SizeBytes)
	mqttCfg := cfg.MQTT()
	orch := connectivity.New(connectivity.Config{
		Session: mqtt.Config{
			Broker:   mqttCfg.Broker,
			ClientID: mqttCfg.ClientID,
			Username: mqttCfg.Username,
			Password: mqttCfg.Password,
			Prefix:   mqttCfg.Prefix,
			UseTLS:   mqttCfg.UseTLS,
		},
		ListenAddr: cfg.API().Addr,
	}, connectivity.Deps{
		Link:       network.NewInterfaceLink(cfg.Device().Interface, nil, logger.Named("network")),
		NewSession: connectivity.MQTTSessions(logger.Named("mqtt")),
		Storage:    store,
		Restarter:  system.NewExecRestarter(cfg.System().RestartCommand, logger.Named("system")),
		Counters:   counters.Sample,
		Events:     eventStore,
		Logger:     logger.Named("connectivity"),
	})

	mirror := display.NewMirrorPanel(nil, logger.Named("panel"))
	buttons := input.NewQueue(8)
	coord := coordinator.New(coordinator.Deps{
		Connectivity: orch,
		Display:      display.NewController(mirror, logger.Named("display")),
		Reader:       reader,
		Buttons:      buttons,
		Discovery:    mqtt.NewDiscoveryManager(orch, store, logger.Named("discovery")),
		Events:       eventStore,
		Logger:       logger.Named("coordinator"),
	}, start)

	apiCfg := cfg.API()
	server := api.NewServer(api.Deps{
		Device:   orch,
		Settings: coord.Settings,
		Display:  mirror,
		Buttons:  buttons,
		Events:   eventStore,
		JWT:      auth.NewJWTManager(apiCfg.JWTSecret, apiCfg.TokenExpiration),
		NoAuth:   apiCfg.NoAuth,
		Logger:   logger.Named("api"),
	})
	orch.SetStatusHandler(server.Router())
	if apiCfg.NoAuth {
		logger.Warn("authentication is DISABLED")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Blocks until the link is up
	if err := orch.Initialize(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	logAccessURLs(apiCfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx, cfg.Loop().Tick)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return orch.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("device loop: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// newSensorSources returns the sensor drivers. Only the simulated pair is
// built in; hardware drivers register through the same interfaces.
func newSensorSources(sc config.SensorsConfig) (sensors.ParticulateSource, sensors.GasSource, error) {
	if !sc.Simulate {
		return nil, nil, errors.New("no hardware sensor driver available, set sensors.simulate")
	}
	seed := sc.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return sensors.NewSimulatedParticulate(seed), sensors.NewSimulatedGas(seed+1, sc.GasBurnIn), nil
}

// logAccessURLs logs every address the status API can be reached on.
func logAccessURLs(addr string) {
	if addr == "" {
		return
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = addr
	}

	ifaces, err := network.HostInterfaces()
	if err != nil {
		return
	}
	var urls []string
	for _, iface := range ifaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, a := range iface.Addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			urls = append(urls, "http://"+net.JoinHostPort(ipNet.IP.String(), port))
		}
	}
	if len(urls) == 0 {
		urls = append(urls, "http://"+net.JoinHostPort("localhost", port))
	}
	logger.Info("status API listening", zap.Strings("urls", urls))
}
