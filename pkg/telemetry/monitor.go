package telemetry

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/sh2"
	"github.com/robotalks/hubflash/pkg/shtp"
)

// Sink receives reports from a Monitor.
type Sink interface {
	Publish(*Report) error
}

// SinkFunc is the func form of Sink.
type SinkFunc func(*Report) error

// Publish implements Sink.
func (f SinkFunc) Publish(r *Report) error {
	return f(r)
}

// LogSink logs every report.
var LogSink = SinkFunc(func(r *Report) error {
	glog.Infof("chan %d seq %d t=%d: % x", r.Channel, r.Seq, r.Timestamp, r.Payload)
	return nil
})

// DefaultPollInterval is the idle time between reads when nothing arrives.
const DefaultPollInterval = time.Millisecond

// Monitor forwards all hub reports to sinks until canceled.
type Monitor struct {
	HAL          sh2.HAL
	Sinks        []Sink
	PollInterval time.Duration

	reports  int
	failures int
}

// NewMonitor creates a Monitor.
func NewMonitor(hal sh2.HAL, sinks ...Sink) *Monitor {
	return &Monitor{HAL: hal, Sinks: sinks, PollInterval: DefaultPollInterval}
}

// Name implements framework.Named.
func (m *Monitor) Name() string {
	return "monitor"
}

// Reports returns the number of reports forwarded.
func (m *Monitor) Reports() int {
	return m.reports
}

// Failures returns the number of failed publishes.
func (m *Monitor) Failures() int {
	return m.failures
}

// Run implements framework.Runnable.
func (m *Monitor) Run(ctx context.Context) error {
	tr, err := shtp.Open(m.HAL)
	if err != nil {
		return err
	}
	defer func() {
		st := tr.Stats()
		glog.Infof("monitor stopped: %d reports, %d rx errors, %d seq gaps",
			m.reports, st.RxErrors, st.RxSeqGaps)
		tr.Close()
	}()
	tr.ListenAll(shtp.HandleTransferFunc(m.forward))

	for {
		before := tr.Stats()
		if err := tr.Service(); err != nil {
			return err
		}
		if after := tr.Stats(); after.RxTransfers != before.RxTransfers || after.RxErrors != before.RxErrors {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.PollInterval):
		}
	}
}

func (m *Monitor) forward(t *shtp.Transfer) {
	m.reports++
	r := &Report{Channel: t.Channel, Seq: t.Seq, Timestamp: t.Timestamp, Payload: t.Payload}
	for _, sink := range m.Sinks {
		if err := sink.Publish(r); err != nil {
			m.failures++
			glog.Warningf("publish chan %d: %v", r.Channel, err)
		}
	}
}
