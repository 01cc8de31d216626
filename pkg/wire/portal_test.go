package wire

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/raskyld/telaio"
)

func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	tmpl := x509.Certificate{
		Subject:      pkix.Name{CommonName: "portal-test"},
		SerialNumber: serialNumber,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{{127, 0, 0, 1}},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		InsecureSkipVerify: true,
	}
}

func testPortalConfig(t *testing.T, name string) *Config {
	t.Helper()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(name)},
	})
	return &Config{
		TLSConfig:   selfSignedTLS(t),
		BindAddr:    "127.0.0.1",
		DialTimeout: 5 * time.Second,
		LogHandler:  handler,
		MetricSink:  &metrics.BlackholeSink{},
	}
}

func TestPortal_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var received []*telaio.Message
	var dests []string

	recv, err := NewPortal(testPortalConfig(t, "recv"), func(dest string, msg *telaio.Message) error {
		mu.Lock()
		defer mu.Unlock()
		dests = append(dests, dest)
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.Serve(ctx)

	send, err := NewPortal(testPortalConfig(t, "send"), func(string, *telaio.Message) error { return nil })
	require.NoError(t, err)
	defer send.Close()

	conn, err := send.Dial(ctx, recv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	msg := telaio.NewData("tick", []byte("over the wire"))
	require.NoError(t, conn.Send("console", msg))

	frame := telaio.NewAudioFrame("pcm", []byte{1, 2, 3}, telaio.AudioSpec{
		SampleRate: 16000, Channels: 1, BytesPerSample: 2,
	})
	require.NoError(t, conn.Send("asr", frame))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 5*time.Second, 10*time.Millisecond, "envelopes never crossed the wire")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"console", "asr"}, dests)
	require.Equal(t, msg.ID(), received[0].ID())
	require.Equal(t, []byte("over the wire"), received[0].Payload())
	require.Equal(t, telaio.KindAudioFrame, received[1].Kind())
	require.Equal(t, 16000, received[1].Audio().SampleRate)
}

func TestPortal_RequiresTLS(t *testing.T) {
	_, err := NewPortal(&Config{}, func(string, *telaio.Message) error { return nil })
	require.ErrorIs(t, err, ErrNoTLSConfig)
}

func TestPortal_DialAfterClose(t *testing.T) {
	p, err := NewPortal(testPortalConfig(t, "closer"), func(string, *telaio.Message) error { return nil })
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "closing twice is a no-op")

	_, err = p.Dial(context.Background(), "127.0.0.1:1")
	require.ErrorIs(t, err, ErrPortalClosed)
}
