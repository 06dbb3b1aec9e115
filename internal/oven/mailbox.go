package oven

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/reflow-controller/internal/logic"
)

// Op names a mutation requested from outside the control loop.
type Op int

const (
	OpStart Op = iota
	OpStop
	OpSetProfile
	OpSetTunings
)

func (op Op) String() string {
	switch op {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpSetProfile:
		return "set-profile"
	case OpSetTunings:
		return "set-tunings"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Command is a request for the goroutine that owns the Oven.
type Command struct {
	Op      Op
	Profile logic.Profile // OpSetProfile
	Tunings logic.Tunings // OpSetTunings

	reply chan error
}

// Mailbox carries commands to the control loop and waits for the result.
type Mailbox struct {
	ch chan Command
}

// NewMailbox creates a mailbox buffering up to size pending commands.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{ch: make(chan Command, size)}
}

// C is read by the control loop.
func (m *Mailbox) C() <-chan Command {
	return m.ch
}

// Submit queues cmd and waits until the loop has handled it.
func (m *Mailbox) Submit(ctx context.Context, cmd Command) error {
	cmd.reply = make(chan error, 1)

	select {
	case m.ch <- cmd:
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", cmd.Op, ctx.Err())
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await %s: %w", cmd.Op, ctx.Err())
	}
}

// Start requests a new run.
func (m *Mailbox) Start(ctx context.Context) error {
	return m.Submit(ctx, Command{Op: OpStart})
}

// Stop requests the current run to end.
func (m *Mailbox) Stop(ctx context.Context) error {
	return m.Submit(ctx, Command{Op: OpStop})
}

// SetProfile requests a new active profile.
func (m *Mailbox) SetProfile(ctx context.Context, p logic.Profile) error {
	return m.Submit(ctx, Command{Op: OpSetProfile, Profile: p})
}

// SetTunings requests new PID gains.
func (m *Mailbox) SetTunings(ctx context.Context, t logic.Tunings) error {
	return m.Submit(ctx, Command{Op: OpSetTunings, Tunings: t})
}

// Handle applies cmd at now, replies to the submitter and returns any
// events produced.
func (o *Oven) Handle(now time.Time, cmd Command) []logic.Event {
	var (
		events []logic.Event
		err    error
	)
	switch cmd.Op {
	case OpStart:
		events, err = o.Start(now)
	case OpStop:
		events = o.Stop(now)
	case OpSetProfile:
		err = o.SetProfile(cmd.Profile)
	case OpSetTunings:
		err = o.SetTunings(cmd.Tunings)
	default:
		err = fmt.Errorf("unknown command %s", cmd.Op)
	}

	if err != nil {
		o.logger.WithField("op", cmd.Op).Warnf("command rejected: %v", err)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
	return events
}
