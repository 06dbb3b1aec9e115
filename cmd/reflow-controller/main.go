// Command reflow-controller runs a reflow oven: it follows a temperature
// profile with a PID loop driving the heater relay, and reports progress
// over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/reflow-controller/internal/adc"
	"github.com/sweeney/reflow-controller/internal/config"
	"github.com/sweeney/reflow-controller/internal/gpio"
	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/mqtt"
	"github.com/sweeney/reflow-controller/internal/oven"
	"github.com/sweeney/reflow-controller/internal/profile"
	"github.com/sweeney/reflow-controller/internal/status"
	"github.com/sweeney/reflow-controller/internal/store"
	"github.com/sweeney/reflow-controller/internal/web"
)

// mailboxSize bounds pending HTTP commands; submitters block beyond it.
const mailboxSize = 8

func main() {
	configFile := flag.String("config", "", "Config file (default: reflow.yaml in . or /etc/reflow-controller)")
	printState := flag.Bool("print-state", false, "Print current temperature and exit")
	exportProfiles := flag.String("export-profiles", "", "Write stored profiles to this YAML file and exit")

	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("fatal: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	if *printState {
		err = printTemperature(cfg, logger)
	} else if *exportProfiles != "" {
		err = export(cfg, *exportProfiles, logger)
	} else {
		err = run(cfg, logger)
	}
	if err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	active, err := db.ActiveProfile()
	if err != nil {
		return fmt.Errorf("load active profile: %w", err)
	}
	tunings, err := db.Tunings()
	if err != nil {
		return fmt.Errorf("load tunings: %w", err)
	}

	relay, err := gpio.NewRealRelay(cfg.GPIO.RelayPin)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	buttons, err := gpio.NewRealButtons(cfg.GPIO.StartPin, cfg.GPIO.StopPin)
	if err != nil {
		return fmt.Errorf("init buttons: %w", err)
	}
	defer buttons.Close()

	reader, err := adc.NewSerialReader(cfg.ADC.Port, cfg.ADC.Baud, int(cfg.Sensor.ADCMax), logger.WithField("component", "adc"))
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer reader.Close()

	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = nopPublisher{}
	if cfg.MQTT.Broker != "" {
		publisher = mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.BufferSize, logger.WithField("component", "mqtt"))
	}
	defer publisher.Close()

	ovenCfg := cfg.Oven()
	o := oven.New(ovenCfg, reader, relay, active, tunings, logger.WithField("component", "oven"))

	// Initialize status tracker (before STARTUP so snapshot is available)
	start := time.Now()
	tracker := status.NewTracker(start, status.Config{
		SampleMs:    ovenCfg.SampleInterval.Milliseconds(),
		ControlMs:   ovenCfg.PID.Interval.Milliseconds(),
		PWMPeriodMs: ovenCfg.PWM.Period.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		MaxTempC:    ovenCfg.MaxTempC,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	tracker.Update(o.Status(start))

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warnf("failed to publish startup event: %v", err)
	}

	mailbox := oven.NewMailbox(mailboxSize)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, mailbox, db, logger.WithField("component", "http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("http server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Infof("http server listening on %s", cfg.HTTP.Addr)
	}

	logger.WithFields(logrus.Fields{
		"profile":   active.Name,
		"tick":      cfg.Loop.Tick,
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.MQTT.Heartbeat,
		"max_temp":  ovenCfg.MaxTempC,
	}).Info("started")

	ticker := time.NewTicker(cfg.Loop.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		oven:       o,
		buttons:    buttons,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		mailbox:    mailbox,
		heartbeat:  cfg.MQTT.Heartbeat,
		logger:     logger,
		now:        time.Now,
	}
	return l.run(ticker.C, sigCh)
}

// openStore opens the database and seeds it from the profiles file and
// configured gains on first boot.
func openStore(cfg *config.Config, logger *logrus.Logger) (*store.Store, error) {
	db, err := store.Open(cfg.Store.Path, logger.WithField("component", "store"))
	if err != nil {
		return nil, err
	}

	var seed []logic.Profile
	if cfg.Store.ProfilesFile != "" {
		if seed, err = profile.Load(cfg.Store.ProfilesFile); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.Seed(seed, cfg.Tunings()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed store: %w", err)
	}
	return db, nil
}

func export(cfg *config.Config, filename string, logger *logrus.Logger) error {
	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	profiles, err := db.Profiles()
	if err != nil {
		return err
	}
	if err := profile.Save(filename, profiles); err != nil {
		return err
	}
	fmt.Printf("wrote %d profiles to %s\n", len(profiles), filename)
	return nil
}

// printTemperature fills the filter window from the ADC and prints one
// reading.
func printTemperature(cfg *config.Config, logger *logrus.Logger) error {
	reader, err := adc.NewSerialReader(cfg.ADC.Port, cfg.ADC.Baud, int(cfg.Sensor.ADCMax), logger.WithField("component", "adc"))
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer reader.Close()

	ovenCfg := cfg.Oven()
	filter := logic.NewFilter(ovenCfg.Thermistor, ovenCfg.Samples, ovenCfg.SampleInterval)

	deadline := time.Now().Add(2 * time.Second)
	got := 0
	for got < ovenCfg.Samples {
		if time.Now().After(deadline) {
			return fmt.Errorf("read adc: no samples from %s", cfg.ADC.Port)
		}
		raw, err := reader.Read()
		if err == nil {
			filter.Sample(time.Now(), raw)
			got++
		}
		time.Sleep(ovenCfg.SampleInterval)
	}

	r := filter.Reading()
	c := color.New(color.FgCyan)
	switch {
	case r.TemperatureC >= 150:
		c = color.New(color.FgRed, color.Bold)
	case r.TemperatureC >= 50:
		c = color.New(color.FgYellow)
	}
	c.Printf("%.1f C", r.TemperatureC)
	fmt.Printf(" (%.0f ohm, raw %.1f)\n", r.ResistanceOhms, r.RawAverage)
	return nil
}

// nopPublisher stands in when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(logic.Event) error { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error { return nil }
func (nopPublisher) IsConnected() bool { return false }
