// Package etherlink serves the streaming debug IP of an FPGA to TCP clients.
//
// A Server owns one IP: it checks the IP, plans its buffer regions and
// bridges each accepted client to a channel pair. Transfers on the data
// listener go to H2T and come back from T2H; transfers on the management
// listener use MGMT and MGMT-RSP.
package etherlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/driver"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
	"github.com/ehrlich-b/go-etherlink/internal/sock"
	"github.com/ehrlich-b/go-etherlink/internal/stream"
)

// Registers is the CSR window of one IP.
type Registers = interfaces.Registers

// RegisterCloser is a register window that owns an OS resource.
type RegisterCloser = interfaces.RegisterCloser

// Logger receives lifecycle messages.
type Logger interface {
	Printf(format string, args ...any)
}

// ServerParams contains parameters for serving one IP
type ServerParams struct {
	// Registers is the IP's register window. Closed by Server.Close when it
	// implements RegisterCloser.
	Registers Registers

	// FallbackSize is the H2T/T2H region size for IPs that do not report
	// one (version 0).
	FallbackSize uint32

	// Listener configuration
	ListenIP string
	Port     int // 0 lets the kernel pick
	MgmtPort int // 0 lets the kernel pick, negative disables

	// Loopback turns on hardware loopback after initialization.
	Loopback bool

	// Poll pacing while a channel is blocked
	PollMin time.Duration
	PollMax time.Duration
}

// DefaultParams returns default server parameters
func DefaultParams(regs Registers) ServerParams {
	return ServerParams{
		Registers:    regs,
		FallbackSize: constants.DefaultH2TT2HMemSize,
		ListenIP:     constants.DefaultListenIP,
		Port:         constants.DefaultPort,
		MgmtPort:     constants.DefaultMgmtPort,
		PollMin:      constants.PollBackoffMin,
		PollMax:      constants.PollBackoffMax,
	}
}

// Options contains additional options for server creation
type Options struct {
	// Logger for lifecycle messages (if nil, no messages)
	Logger Logger

	// Observer for transfer events (if nil, records to the server's Metrics)
	Observer Observer
}

// Server bridges TCP clients to one streaming debug IP. Each listener serves
// one client at a time.
type Server struct {
	params ServerParams
	drv    *driver.Driver
	data   net.Listener
	mgmt   net.Listener

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger
	printf   Logger

	// running Serve calls, stopped and awaited by Close
	mu      sync.Mutex
	closed  bool
	stops   []context.CancelFunc
	serving sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Listen initializes the IP and opens the listeners. The management listener
// is only opened when the IP has management support and MgmtPort is not
// negative.
//
// Example:
//
//	sim, _ := etherlink.NewSimulator(etherlink.DefaultSimulatorConfig())
//	srv, err := etherlink.Listen(ctx, etherlink.DefaultParams(sim), nil)
//	...
//	err = srv.Serve(ctx)
func Listen(ctx context.Context, params ServerParams, options *Options) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if params.Registers == nil {
		return nil, fmt.Errorf("listen: %w", ErrInvalidParameters)
	}

	logger := logging.Default()
	drv, err := driver.New(driver.Config{
		Registers:    params.Registers,
		FallbackSize: params.FallbackSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize IP: %w", err)
	}
	if params.Loopback {
		if err := drv.SetLoopback(true); err != nil {
			return nil, fmt.Errorf("failed to enable loopback: %w", err)
		}
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	s := &Server{
		params:   params,
		drv:      drv,
		metrics:  metrics,
		observer: observer,
		logger:   logger,
		printf:   options.Logger,
	}

	var lc net.ListenConfig
	s.data, err = lc.Listen(ctx, "tcp", net.JoinHostPort(params.ListenIP, strconv.Itoa(params.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	if drv.HasMgmtSupport() && params.MgmtPort >= 0 {
		s.mgmt, err = lc.Listen(ctx, "tcp", net.JoinHostPort(params.ListenIP, strconv.Itoa(params.MgmtPort)))
		if err != nil {
			s.data.Close()
			return nil, fmt.Errorf("failed to listen for management: %w", err)
		}
	}

	logger.Info("listening",
		"data", s.data.Addr().String(),
		"mgmt", s.MgmtAddr(),
		"max_transfer", humanize.IBytes(uint64(drv.MaxTransfer())))
	if s.printf != nil {
		s.printf.Printf("Serving streaming debug IP v%d on %s", drv.Identity().Version, s.data.Addr())
	}
	return s, nil
}

// Addr returns the data listener address
func (s *Server) Addr() net.Addr {
	return s.data.Addr()
}

// MgmtAddr returns the management listener address, or "" when there is no
// management listener
func (s *Server) MgmtAddr() string {
	if s.mgmt == nil {
		return ""
	}
	return s.mgmt.Addr().String()
}

// Serve accepts clients until ctx is cancelled or Close is called. Each
// listener handles one client at a time; further clients wait in the
// accept backlog. Serve on a closed Server fails with net.ErrClosed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("serve: %w", net.ErrClosed)
	}
	ctx, stop := context.WithCancel(ctx)
	s.stops = append(s.stops, stop)
	s.serving.Add(1)
	s.mu.Unlock()
	defer s.serving.Done()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serveListener(ctx, s.data, s.drv.H2T(), s.drv.T2H(), s.drv.MaxTransfer())
	})
	if s.mgmt != nil {
		g.Go(func() error {
			return s.serveListener(ctx, s.mgmt, s.drv.Mgmt(), s.drv.MgmtRsp(), s.drv.MaxMgmtTransfer())
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return s.closeListeners()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener, up stream.Uplink, down stream.Downlink, maxTransfer int) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		s.serveConn(ctx, c, up, down, maxTransfer)
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn, up stream.Uplink, down stream.Downlink, maxTransfer int) {
	logger := s.logger.WithConn(c.RemoteAddr().String()).WithChannel(up.Name())
	defer c.Close()

	if err := sock.Tune(c, constants.LingerSeconds); err != nil {
		logger.Warn("failed to set socket options", "error", err)
	}

	sess, err := stream.New(stream.Config{
		Socket:      sock.NewConn(c),
		Up:          up,
		Down:        down,
		MaxTransfer: maxTransfer,
		Observer:    s.observer,
		Logger:      logger,
		PollMin:     s.params.PollMin,
		PollMax:     s.params.PollMax,
	})
	if err != nil {
		logger.Error("failed to create session", "error", err)
		return
	}

	logger.Info("client connected")
	err = sess.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.metrics.RecordSession(err)
	if err != nil {
		logger.Error("session failed", "error", err)
	}
}

func (s *Server) closeListeners() error {
	var err error
	if s.data != nil {
		err = multierr.Append(err, ignoreClosed(s.data.Close()))
	}
	if s.mgmt != nil {
		err = multierr.Append(err, ignoreClosed(s.mgmt.Close()))
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close stops the listeners, ends running sessions and waits for every
// Serve call to return before it releases the register window. Reset and
// the parameter methods must not be used after Close.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()

		for _, stop := range stops {
			stop()
		}
		s.closeErr = s.closeListeners()
		s.serving.Wait()

		s.metrics.Stop()
		if rc, ok := s.params.Registers.(RegisterCloser); ok {
			s.closeErr = multierr.Append(s.closeErr, rc.Close())
		}
		if s.printf != nil {
			s.printf.Printf("Server stopped: %s", s.metrics.Snapshot().Summary())
		}
	})
	return s.closeErr
}

// Reset re-initializes every channel of the IP
func (s *Server) Reset() error {
	return s.drv.Reset()
}

// SetParam sets a driver parameter ("HW_LOOPBACK")
func (s *Server) SetParam(name, value string) error {
	return s.drv.SetParam(name, value)
}

// Param reads a driver parameter ("HW_LOOPBACK", "MGMT_SUPPORT")
func (s *Server) Param(name string) (string, error) {
	return s.drv.Param(name)
}

// EnableInterrupts sets or clears the IP's interrupt enable field
func (s *Server) EnableInterrupts(on bool) {
	s.drv.EnableInterrupts(on)
}

// InterruptsEnabled reports the IP's interrupt enable field
func (s *Server) InterruptsEnabled() bool {
	return s.drv.InterruptsEnabled()
}

// MaskInterrupts writes the interrupt mask, a combination of the
// InterruptMask* bits
func (s *Server) MaskInterrupts(mask uint32) error {
	return s.drv.MaskInterrupts(mask)
}

// InterruptMask reads the interrupt mask
func (s *Server) InterruptMask() uint32 {
	return s.drv.InterruptMask()
}

// HasMgmtSupport reports whether the IP has a management channel pair
func (s *Server) HasMgmtSupport() bool {
	return s.drv.HasMgmtSupport()
}

// MaxTransfer returns the largest single data transfer
func (s *Server) MaxTransfer() int {
	return s.drv.MaxTransfer()
}

// Metrics returns the live metrics of the server
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of server metrics
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}
