// Package monitor samples a switch endpoint periodically: an echo round trip to prove
// the management path is alive, then a die temperature read. Each sample can be
// published to a registry so other hosts can see the switch's health.
package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"switchtec-mrpc/command"
	"switchtec-mrpc/logger"
	"switchtec-mrpc/registry"
	"switchtec-mrpc/transport"
)

type Options struct {
	Interval time.Duration
	// TTL is how long, in seconds, a published reading survives without renewal.
	TTL int64
	// MaxFailures stops Run after this many consecutive failed samples; 0 never stops.
	MaxFailures int
}

func NewOptions() *Options {
	return &Options{
		Interval: 5 * time.Second,
		TTL:      15,
	}
}

type Monitor struct {
	ch     transport.Channel
	reg    registry.Registry // nil when readings are not published
	device string
	runID  string
	opts   *Options
	now    func() time.Time
	log    *zap.Logger
}

// New creates a monitor for the endpoint behind ch. reg may be nil.
func New(ch transport.Channel, device string, reg registry.Registry, opts *Options) *Monitor {
	if opts == nil {
		opts = NewOptions()
	}
	runID := uuid.NewString()
	return &Monitor{
		ch:     ch,
		reg:    reg,
		device: device,
		runID:  runID,
		opts:   opts,
		now:    time.Now,
		log:    logger.L().Named("monitor").With(zap.String("device", device), zap.String("run", runID)),
	}
}

// RunID identifies this monitor's readings.
func (m *Monitor) RunID() string {
	return m.runID
}

// Sample takes one reading. The echo result is stored in the reading even when the
// temperature read fails; the returned error is the first failure.
func (m *Monitor) Sample(ctx context.Context) (registry.Reading, error) {
	reading := registry.Reading{
		Device:    m.device,
		RunID:     m.runID,
		Timestamp: m.now().UTC(),
	}

	// The low 32 bits of the run's sample time make a fresh sub-command each round
	if _, err := command.Echo(ctx, m.ch, command.NewEchoRecord(uint32(reading.Timestamp.UnixNano()))); err != nil {
		reading.Error = err.Error()
		return reading, err
	}
	reading.EchoOK = true

	celsius, err := command.DieTemperature(ctx, m.ch)
	if err != nil {
		reading.Error = err.Error()
		return reading, err
	}
	reading.TemperatureC = celsius
	return reading, nil
}

// Run samples every Interval until ctx ends, handing each reading to onReading (may
// be nil) and publishing it when a registry is set. On return the published reading
// is withdrawn. Run returns nil when ctx ends, or the last sample error once
// MaxFailures consecutive samples have failed.
func (m *Monitor) Run(ctx context.Context, onReading func(registry.Reading)) error {
	defer m.withdraw()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		reading, err := m.Sample(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			failures++
			m.log.Warn("sample failed", zap.Int("consecutive", failures), zap.Error(err))
			if m.opts.MaxFailures > 0 && failures >= m.opts.MaxFailures {
				return err
			}
		} else {
			failures = 0
		}

		if onReading != nil {
			onReading(reading)
		}
		m.publish(ctx, reading)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) publish(ctx context.Context, reading registry.Reading) {
	if m.reg == nil {
		return
	}
	if err := m.reg.Publish(ctx, reading, m.opts.TTL); err != nil {
		m.log.Warn("publish reading failed", zap.Error(err))
	}
}

func (m *Monitor) withdraw() {
	if m.reg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.reg.Withdraw(ctx, m.device); err != nil {
		m.log.Warn("withdraw reading failed", zap.Error(errors.Cause(err)))
	}
}
