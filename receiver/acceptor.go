/*
NAME
  acceptor.go

DESCRIPTION
  acceptor.go implements Receiver, the connection acceptor that listens for
  incoming sender connections, creates a Session per connection, and pumps
  each connection's bytes through its Session as they arrive. Go's runtime
  network poller already performs the readiness multiplexing the original
  reference server did by hand with epoll, so each connection is served by
  its own goroutine doing blocking reads rather than a manual poll loop.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package receiver implements the receiving side of the stream: a
// connection acceptor maintaining one Session per sender, each decoding
// the wire protocol and resampling audio to the local device rate for
// playback.
package receiver

import (
	"net"
	"sync"
	"time"

	"github.com/ausocean/tcpaudio/diagnostics"
	"github.com/ausocean/utils/logging"
)

// resampleTick is how often the receiver's resample goroutine drains every
// session's original-rate ring into its device-rate ring.
const resampleTick = 20 * time.Millisecond

// Receiver accepts connections on a listener and keeps a Session per active
// connection.
type Receiver struct {
	log        logging.Logger
	deviceRate uint32
	ln         net.Listener

	mu       sync.Mutex
	sessions map[string]*Session

	diag *diagnostics.Store

	done chan struct{}
	wg   sync.WaitGroup
}

// SetDiagnostics enables periodic recording of every session's buffered
// state to store, once per resample tick.
func (r *Receiver) SetDiagnostics(store *diagnostics.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag = store
}

// New returns a Receiver that will play back at deviceRate.
func New(deviceRate uint32, log logging.Logger) *Receiver {
	return &Receiver{
		deviceRate: deviceRate,
		log:        log,
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
	}
}

// Listen opens a TCP listener on addr and starts the accept loop and the
// background resample loop.
func (r *Receiver) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.ln = ln
	r.wg.Add(2)
	go r.acceptLoop()
	go r.resampleLoop()
	return nil
}

// Addr returns the address the receiver is listening on, once Listen has
// succeeded. Useful for tests and for senders dialing an ephemeral port.
func (r *Receiver) Addr() string {
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

// Close stops accepting new connections, closes every active session, and
// waits for the acceptor and resample loops to exit.
func (r *Receiver) Close() error {
	close(r.done)
	if r.ln != nil {
		r.ln.Close()
	}
	r.wg.Wait()
	return nil
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				r.log.Warning("accept failed", "error", err.Error())
				continue
			}
		}
		r.wg.Add(1)
		go r.serve(conn)
	}
}

func (r *Receiver) serve(conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	// Close the connection when the Receiver is closed, so the blocking Read
	// below returns and Close does not wait on a still-connected sender.
	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-r.done:
			conn.Close()
		case <-served:
		}
	}()

	name := conn.RemoteAddr().String()
	s := NewSession(name, r.deviceRate, r.log)
	r.addSession(name, s)
	defer r.removeSession(name)

	r.log.Info("session connected", "session", name)
	buf := make([]byte, 64<<10)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !s.Feed(buf[:n]) {
				r.log.Warning("raw ring full, dropping connection", "session", name)
				return
			}
			if perr := s.Pump(); perr != nil {
				r.log.Warning("protocol error, closing connection", "session", name, "error", perr.Error())
				return
			}
		}
		if err != nil {
			r.log.Info("session disconnected", "session", name, "error", err.Error())
			return
		}
	}
}

func (r *Receiver) addSession(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[name] = s
}

func (r *Receiver) removeSession(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Sessions returns a snapshot slice of the currently active sessions.
func (r *Receiver) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Receiver) resampleLoop() {
	defer r.wg.Done()
	t := time.NewTicker(resampleTick)
	defer t.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-t.C:
			r.mu.Lock()
			diag := r.diag
			r.mu.Unlock()
			for _, s := range r.Sessions() {
				s.Resample()
				if diag != nil {
					if err := diag.Record(s.DiagnosticSample()); err != nil {
						r.log.Warning("diagnostics record failed", "session", s.Name(), "error", err.Error())
					}
				}
			}
		}
	}
}
