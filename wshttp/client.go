package wshttp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/framewire/framewire"
)

// Client dials WebSocket servers. Unlike Server, which relies on net/http's
// hijacking, Client performs the handshake directly over a dialed net.Conn,
// using net/http's request/response types to write and parse the HTTP/1.1
// exchange.
type Client struct {
	// Dialer controls how the TCP connection is established. The zero
	// value dials with no timeout beyond ctx's deadline.
	Dialer net.Dialer
	// TLSConfig is used for wss:// targets. A nil value uses the default
	// configuration.
	TLSConfig *tls.Config
	// Header carries additional request headers, e.g. Sec-WebSocket-Protocol
	// or cookies. Host, Upgrade, Connection, Sec-WebSocket-Key and
	// Sec-WebSocket-Version are set by Connect and any caller-supplied
	// values for them are ignored.
	Header http.Header
}

// Connect dials rawURL (ws:// or wss://), performs the opening handshake,
// and returns a framewire.Connection on success. On any handshake failure
// the dialed connection is closed. A response that cannot be parsed or does
// not complete the handshake is reported as framewire.ErrHandshakeFailed,
// wrapping the underlying cause; errors generating the key or writing the
// request are returned as they are.
func (c *Client) Connect(ctx context.Context, rawURL string) (*framewire.Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	var tlsEnabled bool
	switch u.Scheme {
	case "ws":
		tlsEnabled = false
	case "wss":
		tlsEnabled = true
	default:
		return nil, fmt.Errorf("wshttp: unsupported scheme %q", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		if tlsEnabled {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	var netConn net.Conn
	if tlsEnabled {
		tlsConn, err := (&tls.Dialer{NetDialer: &c.Dialer, Config: c.TLSConfig}).DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		netConn = tlsConn
	} else {
		netConn, err = c.Dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
	}

	conn, err := c.handshake(ctx, netConn, u)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, netConn net.Conn, u *url.URL) (*framewire.Connection, error) {
	if dl, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(dl)
		defer netConn.SetDeadline(time.Time{})
	}

	key, err := framewire.GenerateKey()
	if err != nil {
		return nil, err
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	req := &http.Request{
		Method:     "GET",
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for name, values := range c.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		req.Header[name] = values
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set(framewire.HeaderSecWebSocketKey, key)
	req.Header.Set(framewire.HeaderSecWebSocketVersion, "13")

	if _, err := fmt.Fprintf(netConn, "GET %s HTTP/1.1\r\n", path); err != nil {
		return nil, err
	}
	if err := req.Header.Write(netConn); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(netConn, "Host: %s\r\n\r\n", u.Host); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", framewire.ErrHandshakeFailed, err)
	}
	defer resp.Body.Close()

	if err := validateHandshakeResponse(resp, key); err != nil {
		return nil, err
	}
	if reader.Buffered() > 0 {
		return nil, fmt.Errorf("%w: server sent data before handshake completed", framewire.ErrHandshakeFailed)
	}

	return framewire.NewConnection(netConn), nil
}

func validateHandshakeResponse(resp *http.Response, key string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: status %s", framewire.ErrHandshakeFailed, resp.Status)
	}
	if !isUpgradeHeader(resp.Header.Get("Upgrade")) {
		return fmt.Errorf("%w: missing or invalid Upgrade header", framewire.ErrHandshakeFailed)
	}
	if !isConnectionUpgradeHeader(resp.Header.Get("Connection")) {
		return fmt.Errorf("%w: missing or invalid Connection header", framewire.ErrHandshakeFailed)
	}

	want := framewire.AcceptKey(key)
	got := resp.Header.Get(framewire.HeaderSecWebSocketAccept)
	if got != want {
		return fmt.Errorf("%w: Sec-WebSocket-Accept %q does not match expected %q", framewire.ErrHandshakeFailed, got, want)
	}
	return nil
}

func isUpgradeHeader(v string) bool {
	return headerContainsToken(v, "websocket")
}

func isConnectionUpgradeHeader(v string) bool {
	return headerContainsToken(v, "Upgrade")
}
