// Package heartbeat implements the liveness supervisor: a periodic probe
// against the peer's reserved Heartbeat grain, failure detection on
// prolonged silence, and debugger-aware suppression. The ticker-driven
// probe loop does more than send-and-forget — it sends, awaits a reply,
// tracks last success, and fires OnFailure exactly once.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/sharpremote/sharpremote-go/internal/rlog"
)

var log = rlog.Named("heartbeat")

// Prober is the narrow view of the endpoint the supervisor needs: issue one
// heartbeat RPC against the peer's reserved Heartbeat grain and report
// whether it succeeded before ctx expires.
type Prober interface {
	ProbeHeartbeat(ctx context.Context) error
}

// Settings configures one Supervisor.
type Settings struct {
	Interval                 time.Duration
	SkippedThreshold          int
	ReportWhenDebuggerAttached bool
}

// DefaultSettings returns sensible defaults: 1s interval, 10 skips, debugger
// suppression enabled (ReportWhenDebuggerAttached = false).
func DefaultSettings() Settings {
	return Settings{Interval: time.Second, SkippedThreshold: 10, ReportWhenDebuggerAttached: false}
}

// Supervisor probes a peer's liveness on a fixed interval and raises
// OnFailure exactly once per lifetime when the peer stops answering.
type Supervisor struct {
	settings        Settings
	prober          Prober
	isDebuggerAttached func() bool
	onFailure       func()

	mu           sync.Mutex
	lastSuccess  time.Time
	successCount uint64
	failed       bool

	stopCh chan struct{}
	doneCh chan struct{}
	stopOnce sync.Once
}

// New constructs a Supervisor. isDebuggerAttached is an injected oracle so
// tests can simulate a debugger being attached; onFailure is invoked at
// most once.
func New(settings Settings, prober Prober, isDebuggerAttached func() bool, onFailure func()) *Supervisor {
	if isDebuggerAttached == nil {
		isDebuggerAttached = func() bool { return false }
	}
	return &Supervisor{
		settings:           settings,
		prober:             prober,
		isDebuggerAttached: isDebuggerAttached,
		onFailure:          onFailure,
		lastSuccess:        time.Now(),
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start begins the probe loop in a new goroutine. Safe to call once.
func (s *Supervisor) Start() {
	go s.run()
}

func (s *Supervisor) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probeOnce()
		}
	}
}

func (s *Supervisor) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Interval)
	defer cancel()

	err := s.prober.ProbeHeartbeat(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastSuccess = time.Now()
		s.successCount++
		return
	}

	elapsed := time.Since(s.lastSuccess)
	threshold := s.settings.Interval * time.Duration(s.settings.SkippedThreshold)
	if elapsed < threshold || s.failed {
		return
	}

	// A debugger pausing the peer looks identical to a crash from here;
	// suppress the failure callback (but keep probing) when configured to.
	if !s.settings.ReportWhenDebuggerAttached && s.isDebuggerAttached() {
		log.Infow("heartbeat failure suppressed: debugger attached", "elapsed", elapsed)
		return
	}

	s.failed = true
	log.Warnw("heartbeat failure", "elapsed", elapsed, "threshold", threshold)
	if s.onFailure != nil {
		s.onFailure()
	}
}

// SuccessCount returns the number of heartbeats answered so far.
func (s *Supervisor) SuccessCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successCount
}

// Failed reports whether OnFailure has already fired.
func (s *Supervisor) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Stop halts probing; an outstanding probe completes but never raises after
// Stop returns. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Dispose is an alias for Stop; both halt probing idempotently.
func (s *Supervisor) Dispose() { s.Stop() }
