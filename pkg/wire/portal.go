package wire

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"

	"github.com/raskyld/telaio"
)

const alpnProtocol = "telaio-wire"

var (
	MetricWireInCount   = []string{"telaio", "wire", "in", "count"}
	MetricWireOutCount  = []string{"telaio", "wire", "out", "count"}
	MetricWireDropCount = []string{"telaio", "wire", "dropped", "count"}
	MetricWireConnCount = []string{"telaio", "wire", "conn", "count"}
)

// Config for a Portal.
type Config struct {
	// TLSConfig is required; a portal never speaks cleartext. If NextProtos
	// is empty the portal's own ALPN identifier is used.
	TLSConfig *tls.Config

	// BindAddr and BindPort are where the portal listens. A zero port lets
	// the kernel pick one; read it back with Addr.
	BindAddr string
	BindPort int

	// DialTimeout bounds connection establishment towards a remote portal.
	DialTimeout time.Duration

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// MetricLabels to add to every metric the portal emits.
	MetricLabels []metrics.Label
}

// Portal is one process's wire endpoint. The inject function receives every
// envelope decoded off the wire; in the common case it is an engine's Send
// method, which makes a portal's caller responsible for nothing but wiring.
type Portal struct {
	cfg    *Config
	logger *slog.Logger
	msink  metrics.MetricSink
	codec  Codec
	inject func(dest string, msg *telaio.Message) error

	udpLn *net.UDPConn
	tr    *quic.Transport
	ln    *quic.Listener

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewPortal binds the UDP socket and the QUIC listener. Serve must be
// called for inbound envelopes to start flowing.
func NewPortal(cfg *Config, inject func(dest string, msg *telaio.Message) error) (p *Portal, err error) {
	if cfg.TLSConfig == nil {
		return nil, ErrNoTLSConfig
	}
	if inject == nil {
		return nil, errors.New("wire: nil inject function")
	}

	tlsCfg := cfg.TLSConfig
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = []string{alpnProtocol}
	}

	p = &Portal{
		cfg:    cfg,
		inject: inject,
	}

	if cfg.LogHandler == nil {
		p.logger = slog.Default()
	} else {
		p.logger = slog.New(cfg.LogHandler)
	}

	if cfg.MetricSink == nil {
		p.msink = metrics.Default()
	} else {
		p.msink = cfg.MetricSink
	}

	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	addr := net.ParseIP(cfg.BindAddr)
	if addr == nil {
		addr = net.IPv4zero
	}

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: addr, Port: cfg.BindPort})
	if err != nil {
		return nil, fmt.Errorf("wire: failed to allocate UDP listener: %w", err)
	}
	p.udpLn = udpLn

	p.tr = &quic.Transport{Conn: udpLn}
	ln, err := p.tr.Listen(tlsCfg, &quic.Config{
		Versions:       []quic.Version{quic.Version2, quic.Version1},
		MaxIdleTimeout: 1 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: failed to allocate QUIC listener: %w", err)
	}
	p.ln = ln
	return p, nil
}

// Addr returns the bound UDP address.
func (p *Portal) Addr() net.Addr {
	return p.udpLn.LocalAddr()
}

// Serve accepts connections until ctx is cancelled or the portal closes.
// Each inbound stream carries a sequence of envelopes; every decoded one is
// handed to the inject function.
func (p *Portal) Serve(ctx context.Context) error {
	for {
		conn, err := p.ln.Accept(ctx)
		if err != nil {
			if p.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wire: accept failed: %w", err)
		}
		p.msink.IncrCounterWithLabels(MetricWireConnCount, 1.0, p.cfg.MetricLabels)
		p.wg.Add(1)
		go p.serveConn(ctx, conn)
	}
}

func (p *Portal) serveConn(ctx context.Context, conn quic.Connection) {
	defer p.wg.Done()
	defer conn.CloseWithError(0, "done")
	logger := p.logger.With("remote", conn.RemoteAddr().String())
	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			if !p.closed.Load() && ctx.Err() == nil {
				logger.Debug("connection lost", telaio.LabelError.L(err))
			}
			return
		}
		p.wg.Add(1)
		go p.serveStream(logger, stream)
	}
}

func (p *Portal) serveStream(logger *slog.Logger, stream quic.ReceiveStream) {
	defer p.wg.Done()
	for {
		env, err := p.codec.Decode(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.closed.Load() {
				logger.Warn("bad frame, abandoning stream", telaio.LabelError.L(err))
			}
			return
		}

		if err := p.inject(env.Dest, env.Msg); err != nil {
			logger.Warn("failed to inject envelope",
				telaio.LabelExtension.L(env.Dest), telaio.LabelError.L(err))
			p.msink.IncrCounterWithLabels(MetricWireDropCount, 1.0, p.cfg.MetricLabels)
			continue
		}
		p.msink.IncrCounterWithLabels(MetricWireInCount, 1.0, p.cfg.MetricLabels)
	}
}

// Dial opens a connection and one outbound stream towards a remote portal.
func (p *Portal) Dial(ctx context.Context, addr string) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrPortalClosed
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: bad portal address %q: %w", addr, err)
	}

	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}

	tlsCfg := p.cfg.TLSConfig
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = []string{alpnProtocol}
	}

	conn, err := p.tr.Dial(ctx, udpAddr, tlsCfg, &quic.Config{
		Versions:       []quic.Version{quic.Version2, quic.Version1},
		MaxIdleTimeout: 1 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: failed to dial %q: %w", addr, err)
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("wire: failed to open stream to %q: %w", addr, err)
	}

	return &Conn{portal: p, conn: conn, stream: stream}, nil
}

// Close tears the portal down. In-flight handlers are waited for.
func (p *Portal) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if p.ln != nil {
		errs = append(errs, p.ln.Close())
	}
	if p.tr != nil {
		errs = append(errs, p.tr.Close())
	}
	if p.udpLn != nil {
		errs = append(errs, p.udpLn.Close())
	}
	p.wg.Wait()
	return errors.Join(errs...)
}

// Conn is an established outbound stream towards one remote portal. It is
// not safe for concurrent use; give each sending goroutine its own.
type Conn struct {
	portal *Portal
	conn   quic.Connection
	stream quic.SendStream
}

// Send frames msg for the named node on the remote graph.
func (c *Conn) Send(dest string, msg *telaio.Message) error {
	env := &Envelope{Dest: dest, Msg: msg}
	if err := c.portal.codec.Encode(c.stream, env); err != nil {
		return err
	}
	c.portal.msink.IncrCounterWithLabels(MetricWireOutCount, 1.0, c.portal.cfg.MetricLabels)
	return nil
}

func (c *Conn) Close() error {
	err := c.stream.Close()
	return errors.Join(err, c.conn.CloseWithError(0, "bye"))
}
