package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/golang/glog"

	fx "github.com/robotalks/hubflash/pkg/framework"
	"github.com/robotalks/hubflash/pkg/telemetry"
	"github.com/robotalks/hubflash/pkg/telemetry/mqtt"
	"github.com/robotalks/hubflash/pkg/telemetry/websocket"
)

var (
	mqttURL    = "mqtt://localhost:1883/hub/"
	listenAddr string
)

func init() {
	if val := os.Getenv("HUB_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL, empty to disable.")
	flag.StringVar(&listenAddr, "listen", listenAddr, "Address to accept websocket report streams on /reports.")
}

func logReport(source string, r *telemetry.Report) {
	glog.Infof("%s: chan %d seq %d t=%d: % x", source, r.Channel, r.Seq, r.Timestamp, r.Payload)
}

func subscribe(ctx context.Context) error {
	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		return err
	}
	if err = q.Connect(); err != nil {
		return err
	}
	defer q.Close()
	sub := mqtt.SubscribeReports(q, logReport)
	defer sub.Close()
	<-ctx.Done()
	return ctx.Err()
}

func serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/reports", websocket.Receiver(logReport))
	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func main() {
	flag.Parse()
	runner := fx.NewRunner().HandleSignals()
	if mqttURL != "" {
		runner.Go(fx.NamedRun("mqtt", fx.RunFunc(subscribe)))
	}
	if listenAddr != "" {
		runner.Go(fx.NamedRun("websocket", fx.RunFunc(serve)))
	}
	if len(runner.Runners) == 0 {
		glog.Exit("nothing to monitor, -mqtt or -listen required")
	}
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}
