package mqtt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/telemetry"
)

// Publisher is a telemetry.Sink publishing reports of a host.
// Topics are HOST/chan/CHANNEL under the queue prefix.
type Publisher struct {
	Queue *Queue
	Host  string
}

// ReportTopic returns the topic of a channel on host.
func ReportTopic(host string, channel byte) string {
	return host + "/chan/" + strconv.Itoa(int(channel))
}

const (
	// ReportsPattern subscribes to reports of all hosts.
	ReportsPattern = "+/chan/+"
	// PublishTimeout limits the wait for a report to be sent.
	PublishTimeout = time.Second
)

// Publish implements telemetry.Sink.
func (p *Publisher) Publish(r *telemetry.Report) error {
	data, err := telemetry.Encode(r)
	if err != nil {
		return err
	}
	token := p.Queue.Pub(ReportTopic(p.Host, r.Channel), data)
	if !token.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", ReportTopic(p.Host, r.Channel))
	}
	return token.Error()
}

// ReportHandler receives decoded reports with the publishing host.
type ReportHandler func(host string, r *telemetry.Report)

// SubscribeReports subscribes reports from all hosts.
func SubscribeReports(q *Queue, h ReportHandler) *Subscription {
	return q.Sub(ReportsPattern, func(topic string, payload []byte) {
		host, channel, err := parseReportTopic(topic)
		if err != nil {
			glog.Warningf("%s: %v", topic, err)
			return
		}
		r, err := telemetry.Decode(payload)
		if err != nil {
			glog.Warningf("%s: bad report: %v", topic, err)
			return
		}
		if r.Channel != channel {
			glog.Warningf("%s: report of channel %d", topic, r.Channel)
			return
		}
		h(host, r)
	})
}

func parseReportTopic(topic string) (string, byte, error) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[1] != "chan" {
		return "", 0, fmt.Errorf("not a report topic")
	}
	channel, err := strconv.ParseUint(items[2], 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("invalid channel: %v", err)
	}
	return items[0], byte(channel), nil
}
