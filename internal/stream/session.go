// Package stream pumps transfers between one client socket and one channel
// pair of the driver.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
	"github.com/ehrlich-b/go-etherlink/internal/sock"
)

// Uplink is the host-to-device half of a channel pair.
type Uplink interface {
	sock.DeviceWriter
	Name() string
	Reserve(n int) (uint32, error)
	Push(h framing.Header, addr uint32) error
	Cancel()
}

// Downlink is the device-to-host half of a channel pair.
type Downlink interface {
	sock.DeviceReader
	Name() string
	Acquire() (framing.Header, uint32, error)
	Complete() error
}

// Observer receives per-transfer events. Implementations must be safe for
// concurrent use; both pumps of a session call it.
type Observer interface {
	ObserveUpstream(channel string, bytes int)
	ObserveDownstream(channel string, bytes int)
	ObserveStall(channel string)
	ObserveEmptyPoll(channel string)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) ObserveUpstream(string, int)   {}
func (NoopObserver) ObserveDownstream(string, int) {}
func (NoopObserver) ObserveStall(string)           {}
func (NoopObserver) ObserveEmptyPoll(string)       {}

// Config configures a Session.
type Config struct {
	Socket      interfaces.Socket
	Up          Uplink
	Down        Downlink
	MaxTransfer int

	Observer Observer        // defaults to NoopObserver
	Logger   *logging.Logger // defaults to logging.Default()

	// Poll pacing while the device has no space or no data.
	PollMin time.Duration
	PollMax time.Duration
}

// Stats counts the payload moved by a session.
type Stats struct {
	UpstreamBytes       uint64
	UpstreamTransfers   uint64
	DownstreamBytes     uint64
	DownstreamTransfers uint64
}

// Session serves one client connection. Upstream transfers are read from the
// socket into reserved device buffers and pushed; downstream transfers are
// acquired from the device and written to the socket.
type Session struct {
	cfg    Config
	tr     *sock.Transport
	logger *logging.Logger

	upBytes, upTransfers     atomic.Uint64
	downBytes, downTransfers atomic.Uint64
}

// errClientGone ends the pump group when the client hangs up.
var errClientGone = errors.New("client closed the connection")

// New creates a session. Run starts it.
func New(cfg Config) (*Session, error) {
	if cfg.Socket == nil || cfg.Up == nil || cfg.Down == nil {
		return nil, errs.New("new_session", errs.CodeInvalidParameters, "socket and both channels are required")
	}
	if cfg.MaxTransfer <= 0 || cfg.MaxTransfer > constants.MaxTransferLength {
		return nil, errs.Newf("new_session", errs.CodeInvalidParameters, "max transfer %d out of range", cfg.MaxTransfer)
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.PollMin <= 0 {
		cfg.PollMin = constants.PollBackoffMin
	}
	if cfg.PollMax < cfg.PollMin {
		cfg.PollMax = constants.PollBackoffMax
	}

	return &Session{
		cfg:    cfg,
		tr:     sock.NewTransport(cfg.Socket, cfg.MaxTransfer),
		logger: cfg.Logger,
	}, nil
}

func (s *Session) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    s.cfg.PollMin,
		Max:    s.cfg.PollMax,
		Factor: 2,
		Jitter: false,
	}
}

// Run pumps both directions until the client disconnects, a pump fails or
// ctx is cancelled. A client hang-up is a clean end and returns nil.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.upstream(gctx) })
	g.Go(func() error { return s.downstream(gctx) })
	g.Go(func() error {
		// unblock a pump parked in a socket read or write
		<-gctx.Done()
		if c, ok := s.cfg.Socket.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	})

	err := g.Wait()
	s.tr.Release()
	st := s.Stats()
	s.logger.Info("session ended",
		"up", humanize.IBytes(st.UpstreamBytes),
		"down", humanize.IBytes(st.DownstreamBytes),
		"transfers", st.UpstreamTransfers+st.DownstreamTransfers)

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errClientGone):
		return nil
	}
	return err
}

// Stats returns the bytes and transfers moved so far.
func (s *Session) Stats() Stats {
	return Stats{
		UpstreamBytes:       s.upBytes.Load(),
		UpstreamTransfers:   s.upTransfers.Load(),
		DownstreamBytes:     s.downBytes.Load(),
		DownstreamTransfers: s.downTransfers.Load(),
	}
}

// socketDone classifies a socket error: a hang-up, or any error after the
// group was cancelled, is reported as errClientGone.
func socketDone(ctx context.Context, err error) error {
	var te *sock.TransportError
	if errors.As(err, &te) && te.Closed() {
		return errClientGone
	}
	if ctx.Err() != nil {
		return errClientGone
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) upstream(ctx context.Context) error {
	up := s.cfg.Up
	name := up.Name()
	b := s.backoff()

	for {
		h, err := s.tr.RecvHeader()
		if err != nil {
			return socketDone(ctx, err)
		}
		n := int(h.DataLen)
		if n == 0 {
			s.logger.Debug("empty transfer header ignored", "channel", name)
			continue
		}
		if n > s.cfg.MaxTransfer {
			return errs.NewChannel("recv_header", name, errs.CodeInvalidParameters,
				fmt.Sprintf("transfer of %d bytes exceeds %d", n, s.cfg.MaxTransfer))
		}

		addr, err := s.reserve(ctx, b, n)
		if err != nil {
			return err
		}

		if _, err := s.tr.RecvDeviceBuffer(up, addr, n); err != nil {
			up.Cancel()
			return socketDone(ctx, err)
		}
		if err := up.Push(h, addr); err != nil {
			up.Cancel()
			return err
		}

		s.upBytes.Add(uint64(n))
		s.upTransfers.Add(1)
		s.cfg.Observer.ObserveUpstream(name, n)
	}
}

// reserve polls for device space, backing off while the hardware holds
// every buffer.
func (s *Session) reserve(ctx context.Context, b *backoff.Backoff, n int) (uint32, error) {
	defer b.Reset()
	for {
		addr, err := s.cfg.Up.Reserve(n)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, errs.ErrNoSpace) {
			return 0, err
		}
		s.cfg.Observer.ObserveStall(s.cfg.Up.Name())
		if err := wait(ctx, b.Duration()); err != nil {
			return 0, errClientGone
		}
	}
}

func (s *Session) downstream(ctx context.Context) error {
	down := s.cfg.Down
	name := down.Name()
	b := s.backoff()

	for {
		h, addr, err := down.Acquire()
		if errors.Is(err, errs.ErrNoData) {
			s.cfg.Observer.ObserveEmptyPoll(name)
			if err := wait(ctx, b.Duration()); err != nil {
				return errClientGone
			}
			continue
		}
		if err != nil {
			return err
		}
		b.Reset()

		n := int(h.DataLen)
		if err := s.tr.SendHeader(h); err != nil {
			return socketDone(ctx, err)
		}
		if _, err := s.tr.SendDeviceBuffer(down, addr, n); err != nil {
			return socketDone(ctx, err)
		}
		if err := down.Complete(); err != nil {
			return err
		}

		s.downBytes.Add(uint64(n))
		s.downTransfers.Add(1)
		s.cfg.Observer.ObserveDownstream(name, n)
	}
}
