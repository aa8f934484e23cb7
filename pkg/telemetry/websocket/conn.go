package websocket

import (
	"io"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/hubflash/pkg/telemetry"
)

// Conn carries encoded reports, one per websocket message.
type Conn websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *Conn {
	return (*Conn)(conn)
}

// ReadReport reads the next report.
func (c *Conn) ReadReport() (*telemetry.Report, error) {
	var data []byte
	if err := websocket.Message.Receive((*websocket.Conn)(c), &data); err != nil {
		return nil, err
	}
	return telemetry.Decode(data)
}

// WriteReport writes a report.
func (c *Conn) WriteReport(r *telemetry.Report) error {
	data, err := telemetry.Encode(r)
	if err != nil {
		return err
	}
	return websocket.Message.Send((*websocket.Conn)(c), data)
}

// Close closes the connection.
func (c *Conn) Close() error {
	return (*websocket.Conn)(c).Close()
}

// Sink is a telemetry.Sink pushing reports to a websocket server.
type Sink struct {
	conn *Conn
	lock sync.Mutex
}

// DefaultOrigin is sent when dialing.
const DefaultOrigin = "http://localhost/"

// Dial connects to a websocket server, e.g. ws://host:port/reports.
func Dial(url string) (*Sink, error) {
	conn, err := websocket.Dial(url, "", DefaultOrigin)
	if err != nil {
		return nil, err
	}
	return &Sink{conn: New(conn)}, nil
}

// Publish implements telemetry.Sink.
func (s *Sink) Publish(r *telemetry.Report) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn.WriteReport(r)
}

// Close implements io.Closer.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// ReportHandler receives reports from a remote address.
type ReportHandler func(remote string, r *telemetry.Report)

// Receiver accepts websocket connections from Sinks and hands every
// report to h until the connection closes.
func Receiver(h ReportHandler) http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		conn := New(ws)
		defer conn.Close()
		remote := ws.Request().RemoteAddr
		glog.V(2).Infof("%s connected", remote)
		for {
			r, err := conn.ReadReport()
			if err == io.EOF {
				glog.V(2).Infof("%s disconnected", remote)
				return
			}
			if err != nil {
				glog.Warningf("%s: %v", remote, err)
				return
			}
			h(remote, r)
		}
	})
}
