// Package transport establishes the QUIC datagram connection to the SFU,
// with either CA-root or pinned-certificate trust, and exposes a thin
// send/receive datagram API to the session supervisor.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application-layer protocol identifier negotiated with the SFU.
const ALPN = "vox-media/1"

// Conn wraps a QUIC connection scoped to exactly the operations the session
// supervisor needs: send/receive datagrams and graceful close.
type Conn struct {
	conn quic.Connection
}

// Dial parses rawURL (optionally prefixed "quic://"), resolves the host
// preserving the original hostname for TLS SNI, and establishes a QUIC
// connection with datagram support enabled, per spec.md §4.5 / §9.
//
// certDER selects the trust mode: nil uses the system CA roots; non-nil
// pins the connection to that exact certificate's DER bytes.
func Dial(ctx context.Context, rawURL string, certDER []byte, idleTimeoutSecs int) (*Conn, error) {
	addrStr := strings.TrimPrefix(rawURL, "quic://")

	host, addr, err := resolveHostAddr(ctx, addrStr)
	if err != nil {
		return nil, fmt.Errorf("transport dial: %w", err)
	}

	tlsConf := buildTLSConfig(host, certDER)
	quicConf := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  time.Duration(idleTimeoutSecs) * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport dial: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// resolveHostAddr splits a "host:port" string, resolving the host via DNS
// if it isn't already a literal address, while keeping the original
// hostname for TLS SNI (matches the original's host/addr split).
func resolveHostAddr(ctx context.Context, addrStr string) (host, addr string, err error) {
	colon := strings.LastIndex(addrStr, ":")
	if colon < 0 {
		return "", "", fmt.Errorf("missing port in URL %q", addrStr)
	}
	hostname := addrStr[:colon]
	portStr := addrStr[colon+1:]
	if _, err := strconv.Atoi(portStr); err != nil {
		return "", "", fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	bare := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(bare); ip != nil {
		return bare, addrStr, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", hostname)
	if err != nil || len(ips) == 0 {
		return "", "", fmt.Errorf("resolve %q: %w", hostname, err)
	}
	return hostname, net.JoinHostPort(ips[0].String(), portStr), nil
}

// SendDatagram sends one raw datagram (a wire.OutFrame's Encode() output).
func (c *Conn) SendDatagram(data []byte) error {
	if err := c.conn.SendDatagram(data); err != nil {
		return fmt.Errorf("transport: send datagram: %w", err)
	}
	return nil
}

// ReceiveDatagram blocks until the next inbound datagram arrives or ctx is
// cancelled.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	data, err := c.conn.ReceiveDatagram(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: receive datagram: %w", err)
	}
	return data, nil
}

// Close gracefully closes the QUIC connection.
func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "client closing")
}

// buildTLSConfig constructs the client TLS config for the two trust modes
// spec.md §4.5 requires: CA-root verification (certDER == nil), or an exact
// pinned-DER-certificate match (certDER != nil).
func buildTLSConfig(serverName string, certDER []byte) *tls.Config {
	if certDER == nil {
		return &tls.Config{
			ServerName: serverName,
			NextProtos: []string{ALPN},
		}
	}
	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("no server certificate presented")
			}
			if !bytes.Equal(rawCerts[0], certDER) {
				return fmt.Errorf("server certificate does not match pinned certificate")
			}
			return nil
		},
	}
}
