// Package rpcserver dispatches the daemon's framed RPC requests
// (pkg/wire) received over mutually authenticated TLS connections to
// registered Handlers. Grounded on the mTLS setup of the teacher's
// pkg/api/server.go, with the teacher's gRPC/protobuf dispatch replaced
// by spec.md §6's length-delimited JSON framing.
package rpcserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/log"
	"github.com/temporaldb/dbdaemon/pkg/metrics"
	"github.com/temporaldb/dbdaemon/pkg/wire"
)

// responseQueueCapacity bounds how many requests one connection may have
// in flight at once, per spec.md §5's "per-connection response queue has
// bounded capacity (recommended 100)".
const responseQueueCapacity = 100

// Handler answers one RPC method call. The returned value is marshaled
// to JSON as the Response's result; a non-nil error becomes the
// Response's displayable error string.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server dispatches one method-name-keyed Handler per RPC call.
type Server struct {
	tlsConfig *tls.Config
	listener  net.Listener
	capacity  int

	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[net.Conn]struct{}

	shutdown chan struct{}
	forced   chan struct{}
	wg       sync.WaitGroup
}

// NewServer returns a Server that will accept connections on listener,
// upgrading each to TLS with tlsConfig (produced by
// security.LoadServerTLS). A nil tlsConfig leaves listener unwrapped,
// for tests driving the wire protocol directly over plaintext.
func NewServer(listener net.Listener, tlsConfig *tls.Config) *Server {
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	return &Server{
		tlsConfig: tlsConfig,
		listener:  listener,
		capacity:  responseQueueCapacity,
		handlers:  make(map[string]Handler),
		conns:     make(map[net.Conn]struct{}),
		shutdown:  make(chan struct{}),
		forced:    make(chan struct{}),
	}
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handle registers h to answer calls to method. Must be called before
// Serve.
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Serve accepts connections until the listener is closed by Shutdown or
// Force, handling each on its own goroutine. It returns nil once the
// listener closes in response to a shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return err
			}
		}
		s.trackConn(conn)
		metrics.RPCConnectionsActive.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer metrics.RPCConnectionsActive.Dec()
			defer s.untrackConn(conn)
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting new connections, lets in-flight requests
// drain, and returns once every connection has closed or ctx is done
// (in which case it forces an immediate abort). Mirrors the
// watch-channel termination signal described in spec.md §5.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.shutdown)
	_ = s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.Force()
		return ctx.Err()
	}
}

// Force aborts every open connection immediately, for a shutdown signal
// that cannot wait on drains.
func (s *Server) Force() {
	select {
	case <-s.forced:
		return
	default:
		close(s.forced)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	if err := wire.Handshake(conn); err != nil {
		log.Logger.Debug().Err(err).Msg("rpc handshake failed")
		return
	}

	var writeMu sync.Mutex
	inflight := semaphore.NewWeighted(int64(s.capacity))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-s.forced:
			return
		default:
		}

		req, err := wire.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Logger.Debug().Err(err).Msg("rpc read failed")
			}
			return
		}

		select {
		case <-s.shutdown:
			// Once shutdown has been signalled we answer this one
			// arrival and then stop reading altogether; draining
			// in-flight handlers happens below via wg.Wait, and the
			// connection closes once handleConn returns.
			s.reject(conn, &writeMu, req, "shutdown in progress")
			return
		default:
		}

		if !inflight.TryAcquire(1) {
			metrics.RPCBackpressureRejections.Inc()
			s.reject(conn, &writeMu, req, "shutdown in progress")
			continue
		}

		wg.Add(1)
		go func(req wire.Request) {
			defer wg.Done()
			defer inflight.Release(1)
			s.serve(conn, &writeMu, req)
		}(req)
	}
}

func (s *Server) reject(conn net.Conn, writeMu *sync.Mutex, req wire.Request, msg string) {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = wire.WriteResponse(conn, wire.ErrorResponse(req.ID, msg))
}

func (s *Server) serve(conn net.Conn, writeMu *sync.Mutex, req wire.Request) {
	methodLog := log.WithMethod(req.Method)
	timer := metrics.NewTimer()

	h, ok := s.handlers[req.Method]
	var resp wire.Response
	if !ok {
		resp = wire.ErrorResponse(req.ID, "unknown method "+req.Method)
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "not_found").Inc()
	} else {
		result, err := h(context.Background(), req.Params)
		if err != nil {
			methodLog.Debug().Err(err).Msg("rpc handler error")
			resp = wire.ErrorResponse(req.ID, dbderr.Kind(err)+": "+err.Error())
			metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		} else {
			raw, merr := json.Marshal(result)
			if merr != nil {
				resp = wire.ErrorResponse(req.ID, merr.Error())
				metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
			} else {
				resp = wire.Response{ID: req.ID}
				if string(raw) != "null" {
					resp.Result = raw
				}
				metrics.RPCRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
			}
		}
	}

	timer.ObserveDurationVec(metrics.RPCRequestDuration, req.Method)
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := wire.WriteResponse(conn, resp); err != nil {
		log.Logger.Debug().Err(err).Msg("rpc write failed")
	}
}
