package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/signalsfoundry/sewerflow-simulator/internal/config"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/nbi"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("max_hours", 12)
	v.Set("server.accelerated", true)
	v.Set("log.level", "warn")
	cfg, err := config.Load(v, "")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestSimServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := testConfig(t)
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, grpcLis, httpLis)
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	client := nbi.NewSimulationClient(conn)

	// Accelerated runs reach the horizon almost immediately.
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := client.GetStatus(ctx, grpc.WaitForReady(true))
		if err == nil && st.Fields["status"].GetStringValue() == "finished" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish: status=%v err=%v", st, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	snap, err := client.GetSnapshot(ctx, 12)
	if err != nil {
		t.Fatalf("GetSnapshot(12): %v", err)
	}
	if snap.Fields["time"].GetStringValue() == "" {
		t.Fatalf("snapshot not stamped with wall-clock time")
	}

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/api/v1/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	var sum map[string]any
	err = json.NewDecoder(resp.Body).Decode(&sum)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum["hours"] != 12.0 {
		t.Fatalf("summary hours = %v, want 12", sum["hours"])
	}

	resp, err = http.Get("http://" + httpLis.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRootCmdRejectsInvalidConfig(t *testing.T) {
	cmd, err := newRootCmd()
	if err != nil {
		t.Fatalf("newRootCmd: %v", err)
	}
	cmd.SetArgs([]string{"--tick", "-1s", "--grpc-addr", "127.0.0.1:0", "--http-addr", "127.0.0.1:0"})
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected negative tick to be rejected")
	}
}

type nopWriter struct{}

func (*nopWriter) Write(p []byte) (int, error) { return len(p), nil }
