package wshttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/framewire/framewire"
)

// Socket pairs an upgraded Connection with the identity of its peer, handed
// out by Server.NextSocket.
type Socket struct {
	ID          string
	RemoteAddr  string
	Subprotocol string
	Conn        *framewire.Connection
}

// Server accepts HTTP/1.1 connections on a listener and hijacks the ones
// that present a valid WebSocket upgrade request, handing the resulting
// framewire.Connection to whoever calls NextSocket. It plays the role the
// teacher library left to application code: an http.Server married to a
// backlog of upgraded sockets.
type Server struct {
	listener net.Listener
	http     *http.Server
	group    *errgroup.Group
	logger   zerolog.Logger

	// CheckOrigin, if set, gates every upgrade through AllowOrigin. A nil
	// CheckOrigin accepts every Origin, including an absent one.
	CheckOrigin func(serial string, o *Origin) bool

	sockets chan *Socket
}

// Bind starts listening on addr and begins accepting upgrade requests in the
// background. Call NextSocket to retrieve upgraded connections and Close to
// shut the listener down.
func Bind(addr string, logger zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	group := &errgroup.Group{}
	s := &Server{
		listener: listener,
		logger:   logger,
		group:    group,
		sockets:  make(chan *Socket, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}

	group.Go(func() error {
		err := s.http.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("listening for WebSocket upgrades")
	return s, nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !IsUpgradeRequest(r) {
		http.Error(w, "expected a WebSocket upgrade", http.StatusUpgradeRequired)
		return
	}
	if r.Header.Get(framewire.HeaderSecWebSocketVersion) != "13" {
		http.Error(w, "unsupported Sec-WebSocket-Version", http.StatusUpgradeRequired)
		return
	}
	if s.CheckOrigin != nil && !AllowOrigin(r, s.CheckOrigin, true) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, subprotocol, err := Upgrade(w, r, 10*time.Second)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	socket := &Socket{
		ID:          conn.ID,
		RemoteAddr:  r.RemoteAddr,
		Subprotocol: subprotocol,
		Conn:        conn,
	}
	s.logger.Info().Str("socket_id", socket.ID).Str("remote", socket.RemoteAddr).Msg("accepted WebSocket")

	select {
	case s.sockets <- socket:
	default:
		s.logger.Warn().Str("socket_id", socket.ID).Msg("socket backlog full, dropping connection")
		conn.Close()
	}
}

// NextSocket blocks until an upgraded connection is available, ctx is done,
// or the server is closed.
func (s *Server) NextSocket(ctx context.Context) (*Socket, error) {
	select {
	case socket, ok := <-s.sockets:
		if !ok {
			return nil, framewire.ErrClosed
		}
		return socket, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections and waits for the accept loop to
// return. Already-upgraded sockets are unaffected; callers still hold and
// must close them individually.
func (s *Server) Close() error {
	err := s.http.Close()
	close(s.sockets)
	if groupErr := s.group.Wait(); groupErr != nil && err == nil {
		err = groupErr
	}
	return err
}

// Upgrade validates and completes one WebSocket handshake on r, hijacking
// the underlying connection and returning a framewire.Connection wrapping
// it, deriving the Sec-WebSocket-Accept value with framewire.AcceptKey and
// handing back a ready-to-use framewire.Connection.
func Upgrade(w http.ResponseWriter, r *http.Request, timeout time.Duration) (conn *framewire.Connection, subprotocol string, err error) {
	key := r.Header.Get(framewire.HeaderSecWebSocketKey)
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return nil, "", framewire.ErrHandshakeFailed
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection hijacking not supported", http.StatusInternalServerError)
		return nil, "", errors.New("wshttp: ResponseWriter does not support hijacking")
	}

	protocols := Subprotocols(r)
	if len(protocols) > 0 {
		subprotocol = protocols[0]
	}

	netConn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, "", err
	}
	if timeout > 0 {
		netConn.SetDeadline(time.Now().Add(timeout))
	}

	header := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		framewire.HeaderSecWebSocketAccept + ": " + framewire.AcceptKey(key) + "\r\n"
	if subprotocol != "" {
		header += "Sec-WebSocket-Protocol: " + subprotocol + "\r\n"
	}
	header += "\r\n"

	if _, err := rw.WriteString(header); err != nil {
		netConn.Close()
		return nil, "", err
	}
	if err := rw.Flush(); err != nil {
		netConn.Close()
		return nil, "", err
	}
	if rw.Reader.Buffered() > 0 {
		// A client that pipelined frame bytes behind the handshake request
		// would otherwise have them silently lost once rw.Reader is dropped.
		netConn.Close()
		return nil, "", errors.New("wshttp: unexpected data buffered before handshake completed")
	}

	netConn.SetDeadline(time.Time{})
	return framewire.NewConnection(netConn), subprotocol, nil
}
