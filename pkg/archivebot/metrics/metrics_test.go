package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.OnTransition(triage.StateInit, triage.StateAuthenticating)
	c.OnTransition(triage.StateScanning, triage.StateCycleRunning)
	c.OnScan(3)
	c.OnScan(0)
	c.OnCycle(context.Background(), triage.CycleReport{
		Outcome:  triage.Outcome{Kind: triage.OutcomeSkipped, Reason: triage.ReasonGeneratorSilence},
		Duration: 3 * time.Second,
	})
	c.OnCycle(context.Background(), triage.CycleReport{
		Outcome: triage.Outcome{Kind: triage.OutcomeReplied},
	})
	c.OnRecovery(errors.New("boom"))

	if got := testutil.ToFloat64(c.scans); got != 2 {
		t.Errorf("scans = %v", got)
	}
	if got := testutil.ToFloat64(c.lastCandidates); got != 0 {
		t.Errorf("last candidates = %v", got)
	}
	if got := testutil.ToFloat64(c.cycles.WithLabelValues("skipped", "generator-silence")); got != 1 {
		t.Errorf("silence cycles = %v", got)
	}
	if got := testutil.ToFloat64(c.cycles.WithLabelValues("replied", "")); got != 1 {
		t.Errorf("replied cycles = %v", got)
	}
	if got := testutil.ToFloat64(c.recoveries); got != 1 {
		t.Errorf("recoveries = %v", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("scanning", "cycle_running")); got != 1 {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(c.state.WithLabelValues("cycle_running")); got != 1 {
		t.Errorf("state gauge = %v", got)
	}
	if got := testutil.ToFloat64(c.state.WithLabelValues("scanning")); got != 0 {
		t.Errorf("previous state gauge = %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.OnScan(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"archivebot_scans_total 1", "archivebot_last_scan_candidates 2", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition lacks %q", want)
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, NewCollector(), nil) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint unreachable: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
