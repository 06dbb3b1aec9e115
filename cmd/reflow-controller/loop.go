package main

import (
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/reflow-controller/internal/gpio"
	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/mqtt"
	"github.com/sweeney/reflow-controller/internal/oven"
	"github.com/sweeney/reflow-controller/internal/status"
)

// loop owns the oven. Everything that mutates it runs on the goroutine
// calling run.
type loop struct {
	oven       *oven.Oven
	buttons    gpio.Buttons
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker
	mailbox    *oven.Mailbox
	heartbeat  time.Duration
	logger     logrus.FieldLogger
	now        func() time.Time
}

// run serves ticks, mailbox commands and signals until a signal arrives.
func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(l.now())

	for {
		select {
		case s := <-sig:
			l.shutdown(s)
			return nil

		case cmd := <-l.mailbox.C():
			t := l.now()
			l.publish(l.oven.Handle(t, cmd))
			l.refresh(t)

		case <-tick:
			t := l.now()
			l.pollButtons(t)
			l.publish(l.oven.Tick(t))

			if data := hb.Check(t, l.heartbeat, l.oven.Counts()); data != nil {
				l.sendHeartbeat(t, data)
			}
			l.refresh(t)
		}
	}
}

// pollButtons reads the front panel. Stop wins over Start, and a press only
// counts when it applies to the current state, so a held button acts once.
func (l *loop) pollButtons(t time.Time) {
	start, stop, err := l.buttons.Read()
	if err != nil {
		l.logger.Warnf("button read error: %v", err)
		return
	}

	switch {
	case stop && l.oven.Active():
		l.logger.Info("stop button pressed")
		l.publish(l.oven.Stop(t))
	case start && !stop && !l.oven.Active():
		l.logger.Info("start button pressed")
		events, err := l.oven.Start(t)
		if err != nil {
			l.logger.Warnf("start rejected: %v", err)
			return
		}
		l.publish(events)
	}
}

func (l *loop) publish(events []logic.Event) {
	for _, ev := range events {
		l.logger.WithFields(logrus.Fields{
			"event":      ev.Type,
			"phase":      ev.Phase,
			"temp_c":     ev.TemperatureC,
			"setpoint_c": ev.SetpointC,
		}).Debug("event")
		if err := l.publisher.Publish(ev); err != nil {
			// Don't stop the loop on publish failure
			l.logger.Warnf("publish error: %v", err)
		}
	}
}

func (l *loop) refresh(t time.Time) {
	l.tracker.Update(l.oven.Status(t))
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l *loop) sendHeartbeat(t time.Time, data *logic.HeartbeatData) {
	l.logger.WithFields(logrus.Fields{
		"uptime":    data.Uptime,
		"started":   data.Counts.Started,
		"completed": data.Counts.Completed,
		"stopped":   data.Counts.Stopped,
		"faulted":   data.Counts.Faulted,
	}).Info("heartbeat")

	l.refresh(t)
	snap := l.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  data.Timestamp,
		Event:      mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.logger.Warnf("heartbeat publish error: %v", err)
	}
}

// shutdown leaves the relay low and announces the exit.
func (l *loop) shutdown(s os.Signal) {
	l.logger.Infof("received %v, shutting down", s)
	t := l.now()
	l.publish(l.oven.Stop(t))
	l.refresh(t)

	reason := signalName(s)
	snap := l.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.logger.Warnf("failed to publish shutdown event: %v", err)
	} else {
		l.logger.Info("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
