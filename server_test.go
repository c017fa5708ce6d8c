package etherlink

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type bufLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *bufLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(format)
	l.buf.WriteByte('\n')
}

func startServer(t *testing.T, cfg SimulatorConfig, loopback bool) (*Server, *Simulator, *bufLogger) {
	t.Helper()
	sim, err := NewSimulator(cfg)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}

	params := DefaultParams(sim)
	params.ListenIP = "127.0.0.1"
	params.Loopback = loopback
	params.PollMin = 10 * time.Microsecond
	params.PollMax = time.Millisecond
	if cfg.Version == 0 {
		params.FallbackSize = cfg.H2TT2HSize
	}

	logger := &bufLogger{}
	srv, err := Listen(context.Background(), params, &Options{Logger: logger})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return srv, sim, logger
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
	return c
}

func TestServerLoopback(t *testing.T) {
	srv, _, _ := startServer(t, DefaultSimulatorConfig(), true)

	if v, err := srv.Param("HW_LOOPBACK"); err != nil || v != "1" {
		t.Fatalf("HW_LOOPBACK = %q, %v", v, err)
	}

	c := dial(t, srv.Addr().String())
	messages := [][]byte{
		[]byte("ping"),
		bytes.Repeat([]byte{0xA5}, 1500),
		bytes.Repeat([]byte("wrap"), 700),
	}
	for i, msg := range messages {
		if err := c.Send(Header{SOP: true, EOP: true, Channel: uint16(i)}, msg); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		h, payload, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if !bytes.Equal(payload, msg) {
			t.Errorf("message %d: payload mismatch (%d bytes back)", i, len(payload))
		}
		if h.Channel != uint16(i) || !h.SOP || !h.EOP {
			t.Errorf("message %d: unexpected header %v", i, h)
		}
	}

	snap := srv.MetricsSnapshot()
	if snap.H2T.Transfers != 3 {
		t.Errorf("Expected 3 h2t transfers, got %d", snap.H2T.Transfers)
	}
	// the downstream counter is bumped after the send completes
	deadline := time.Now().Add(time.Second)
	for srv.MetricsSnapshot().T2H.Transfers != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := srv.MetricsSnapshot().T2H.Transfers; got != 3 {
		t.Errorf("Expected 3 t2h transfers, got %d", got)
	}
}

func TestServerManagement(t *testing.T) {
	srv, _, _ := startServer(t, DefaultSimulatorConfig(), true)
	if !srv.HasMgmtSupport() || srv.MgmtAddr() == "" {
		t.Fatal("Expected a management listener")
	}

	c := dial(t, srv.MgmtAddr())
	if err := c.Send(Header{SOP: true, EOP: true, Channel: 7}, []byte("status?")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h, payload, err := c.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "status?" || h.Channel != 7 {
		t.Errorf("unexpected response %v %q", h, payload)
	}
}

func TestServerTargetTraffic(t *testing.T) {
	srv, sim, _ := startServer(t, DefaultSimulatorConfig(), false)
	c := dial(t, srv.Addr().String())

	if !sim.QueueT2H([]byte("part one "), false, 0, 1) || !sim.QueueT2H([]byte("part two"), true, 0, 1) {
		t.Fatal("QueueT2H failed")
	}

	var got []byte
	for _, wantSOP := range []bool{true, false} {
		h, payload, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if h.SOP != wantSOP {
			t.Errorf("SOP = %v, want %v", h.SOP, wantSOP)
		}
		got = append(got, payload...)
	}
	if string(got) != "part one part two" {
		t.Errorf("reassembled %q", got)
	}
}

func TestServerSequentialClients(t *testing.T) {
	srv, _, _ := startServer(t, DefaultSimulatorConfig(), true)

	for i := 0; i < 3; i++ {
		c := dial(t, srv.Addr().String())
		if err := c.Send(Header{EOP: true}, []byte("hello")); err != nil {
			t.Fatalf("client %d Send: %v", i, err)
		}
		if _, _, err := c.Recv(); err != nil {
			t.Fatalf("client %d Recv: %v", i, err)
		}
		c.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.MetricsSnapshot().Sessions < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if snap := srv.MetricsSnapshot(); snap.Sessions < 2 || snap.SessionErrors != 0 {
		t.Errorf("Expected clean finished sessions, got %d (%d failed)", snap.Sessions, snap.SessionErrors)
	}
}

func TestServerVersionZero(t *testing.T) {
	cfg := SimulatorConfig{Version: 0, H2TT2HSize: 2048, H2TDepth: 8, MgmtDepth: 4}
	srv, _, _ := startServer(t, cfg, false)

	if srv.HasMgmtSupport() || srv.MgmtAddr() != "" {
		t.Error("version 0 IPs have no management regions")
	}
	if srv.MaxTransfer() != 2048 {
		t.Errorf("MaxTransfer = %d, want 2048", srv.MaxTransfer())
	}
}

func TestServerLargeRegion(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.H2TT2HSize = 128 * 1024
	srv, _, _ := startServer(t, cfg, true)

	if srv.MaxTransfer() != 0xFFFF {
		t.Errorf("MaxTransfer = %d, want 0xFFFF", srv.MaxTransfer())
	}

	c := dial(t, srv.Addr().String())
	messages := [][]byte{
		bytes.Repeat([]byte{0x3C}, 100),
		bytes.Repeat([]byte{0x5A}, 0xFFFF),
	}
	for i, msg := range messages {
		if err := c.Send(Header{SOP: true, EOP: true, Channel: 1}, msg); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		h, payload, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if int(h.DataLen) != len(msg) || !bytes.Equal(payload, msg) {
			t.Errorf("message %d: got %d bytes back, want %d", i, len(payload), len(msg))
		}
	}
}

func TestServerInterrupts(t *testing.T) {
	srv, _, _ := startServer(t, DefaultSimulatorConfig(), false)

	if srv.InterruptsEnabled() {
		t.Error("interrupts start disabled")
	}
	srv.EnableInterrupts(true)
	if !srv.InterruptsEnabled() {
		t.Error("Expected interrupts enabled")
	}

	mask := uint32(InterruptMaskT2H | InterruptMaskMgmtRsp)
	if err := srv.MaskInterrupts(mask); err != nil {
		t.Fatalf("MaskInterrupts: %v", err)
	}
	if got := srv.InterruptMask(); got != mask {
		t.Errorf("InterruptMask = 0x%x, want 0x%x", got, mask)
	}
	if err := srv.MaskInterrupts(0x80); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected ErrInvalidParameters, got %v", err)
	}

	srv.EnableInterrupts(false)
	if srv.InterruptsEnabled() {
		t.Error("Expected interrupts disabled")
	}
}

func TestListenErrors(t *testing.T) {
	if _, err := Listen(context.Background(), DefaultParams(nil), nil); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected ErrInvalidParameters, got %v", err)
	}

	cfg := DefaultSimulatorConfig()
	cfg.Type = 0x1234
	sim, err := NewSimulator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Listen(context.Background(), DefaultParams(sim), nil); !errors.Is(err, ErrIncompatibleDevice) {
		t.Errorf("Expected ErrIncompatibleDevice, got %v", err)
	}
}

func TestServerCloseIdempotent(t *testing.T) {
	sim, err := NewSimulator(DefaultSimulatorConfig())
	if err != nil {
		t.Fatal(err)
	}
	params := DefaultParams(sim)
	params.ListenIP = "127.0.0.1"
	params.MgmtPort = -1

	logger := &bufLogger{}
	srv, err := Listen(context.Background(), params, &Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if srv.MgmtAddr() != "" {
		t.Error("negative MgmtPort disables the management listener")
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := srv.Serve(context.Background()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Serve after Close = %v, want net.ErrClosed", err)
	}
	if !bytes.Contains(logger.buf.Bytes(), []byte("Server stopped")) {
		t.Error("Expected a stop message")
	}
}

// guardedRegisters counts register accesses made after Close.
type guardedRegisters struct {
	*Simulator
	closed atomic.Bool
	late   atomic.Int64
}

func (g *guardedRegisters) touch() {
	if g.closed.Load() {
		g.late.Add(1)
	}
}

func (g *guardedRegisters) Read32(off uint32) uint32 {
	g.touch()
	return g.Simulator.Read32(off)
}

func (g *guardedRegisters) Read64(off uint32) uint64 {
	g.touch()
	return g.Simulator.Read64(off)
}

func (g *guardedRegisters) Write32(off, v uint32) {
	g.touch()
	g.Simulator.Write32(off, v)
}

func (g *guardedRegisters) Write64(off uint32, v uint64) {
	g.touch()
	g.Simulator.Write64(off, v)
}

func (g *guardedRegisters) Close() error {
	g.closed.Store(true)
	return g.Simulator.Close()
}

func TestServerCloseWaitsForSessions(t *testing.T) {
	sim, err := NewSimulator(DefaultSimulatorConfig())
	if err != nil {
		t.Fatal(err)
	}
	regs := &guardedRegisters{Simulator: sim}

	params := DefaultParams(regs)
	params.ListenIP = "127.0.0.1"
	params.Loopback = true
	params.PollMin = 10 * time.Microsecond
	params.PollMax = 100 * time.Microsecond

	srv, err := Listen(context.Background(), params, nil)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	// one round trip proves a session is running and polling T2H
	c := dial(t, srv.Addr().String())
	if err := c.Send(Header{SOP: true, EOP: true}, []byte("live")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, _, err := c.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve still running after Close returned")
	}

	time.Sleep(10 * time.Millisecond)
	if n := regs.late.Load(); n != 0 {
		t.Errorf("%d register accesses after the window was closed", n)
	}
}
