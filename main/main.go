package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mindkite/mindkite"
	"github.com/mindkite/mindkite/monitor"
)

var (
	configFile = flag.String("config", "mindkite.toml", "configuration file")
	testMode   = flag.Bool("testmode", false, "generate synthetic EEG data instead of reading the headset")
	skipChecks = flag.Bool("skip-checks", false, "skip the startup environment checks")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal("invalid log level: ", err)
	}
	log.SetLevel(level)

	if !*skipChecks && !*testMode {
		checkEnvironment(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := mindkite.NewController(*cfg)
	ctrl.SetTestMode(*testMode)

	if cfg.Monitor.Server != "" {
		fwd, err := monitor.NewUDPForwarder(cfg.Monitor.Server, cfg.Monitor.Port)
		if err != nil {
			log.Fatal("unable to start snapshot monitor: ", err)
		}
		defer fwd.Close()
		ctrl.SetMonitor(fwd)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	err = ctrl.Start(ctx)
	ctrl.Stop()
	if err != nil {
		log.Fatal("controller failed: ", err)
	}
}

func loadConfig(path string) (*mindkite.Config, error) {
	cfg, err := mindkite.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(errors.Cause(err)) {
		log.Infof("config %s not found, using defaults", path)
		def := mindkite.DefaultConfig()
		return &def, nil
	}
	return nil, err
}

// checkEnvironment warns about the usual setup problems before the slow
// connect/retry paths hit them.
func checkEnvironment(cfg *mindkite.Config) {
	if _, err := os.Stat(cfg.Headset.Port); err != nil {
		log.Warnf("headset device %s not found; pair the headset and bind the serial port first",
			cfg.Headset.Port)
	} else {
		log.Infof("headset device found at %s", cfg.Headset.Port)
	}

	conn, err := net.DialTimeout("udp",
		net.JoinHostPort(cfg.Drone.Host, "1"), 2*time.Second)
	if err != nil {
		log.Warnf("drone host %s not resolvable: %v; check the drone WiFi connection",
			cfg.Drone.Host, err)
	} else {
		conn.Close()
		log.Infof("drone host %s resolvable", cfg.Drone.Host)
	}
}
