package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// ErrNoClients is returned by the presentation methods when no overlay is
// subscribed.
var ErrNoClients = errors.New("no overlay client subscribed")

const writeTimeout = time.Second

// RequestHandler answers one client message. The returned value becomes the
// result payload when the message carries an ID.
type RequestHandler func(ctx context.Context, clientID string, msg Message) (any, error)

// clientInfo tracks per-client state for overlays
type clientInfo struct {
	conn         net.Conn
	writeMu      sync.Mutex
	origin       string
	colorProfile string
	width        int
	height       int
}

func (c *clientInfo) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// Server accepts overlay and CLI connections on a unix socket and implements
// session.Port by broadcasting to subscribed overlays.
type Server struct {
	socketPath string
	pidPath    string
	listener   net.Listener
	log        pslog.Logger
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[string]*clientInfo
	joined    chan struct{} // closed and replaced on every subscribe

	// OnRequest handles every message that is not part of the connection
	// protocol (subscribe, unsubscribe, ping).
	OnRequest RequestHandler

	// OnSubscribe is called after an overlay subscribed.
	OnSubscribe func(clientID string, info SubscribePayload)
}

// NewServer creates a server for the daemon of a session.
func NewServer(sessionID string, logger pslog.Logger) *Server {
	return NewServerAt(SocketPath(sessionID), PidPath(sessionID), logger)
}

// NewServerAt creates a server on explicit socket and pidfile paths.
func NewServerAt(socketPath, pidPath string, logger pslog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		pidPath:    pidPath,
		log:        logx.Or(logger).With("component", "daemon"),
		clients:    make(map[string]*clientInfo),
		joined:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for client connections
func (s *Server) Start(ctx context.Context) error {
	if err := s.checkAndClaimPid(); err != nil {
		return err
	}

	// Remove stale socket if exists (safe now that we own the pidfile)
	_ = os.Remove(s.socketPath)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		_ = os.Remove(s.pidPath)
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.log.Info("listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(context.WithoutCancel(ctx))
	return nil
}

// checkAndClaimPid checks for an existing daemon and claims the pidfile
func (s *Server) checkAndClaimPid() error {
	if data, err := os.ReadFile(s.pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 && pid != os.Getpid() {
			// On Unix, FindProcess always succeeds, so signal 0 probes liveness.
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon already running with pid %d", pid)
				}
			}
		}
		_ = os.Remove(s.pidPath)
	}
	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// Stop shuts down the server and disconnects every client.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.clientsMu.Lock()
		for id, client := range s.clients {
			_ = client.conn.Close()
			delete(s.clients, id)
		}
		s.clientsMu.Unlock()
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
		_ = os.Remove(s.pidPath)
	})
}

// ClientCount returns the number of subscribed overlays
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// WaitForClient blocks until at least one overlay is subscribed.
func (s *Server) WaitForClient(ctx context.Context) error {
	for {
		s.clientsMu.RLock()
		n := len(s.clients)
		joined := s.joined
		s.clientsMu.RUnlock()
		if n > 0 {
			return nil
		}
		select {
		case <-joined:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return net.ErrClosed
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleClient(ctx, conn)
		}()
	}
}

// handleClient processes messages from one connection in arrival order.
func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-s.done:
			_ = conn.Close()
		case <-finished:
		}
	}()

	client := &clientInfo{conn: conn}
	clientID := ""
	defer func() {
		if clientID != "" {
			s.removeClient(clientID, client)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.log.Debug("dropping malformed message", "err", err)
			continue
		}

		switch msg.Type {
		case MsgSubscribe:
			var info SubscribePayload
			if len(msg.Payload) > 0 {
				if err := msg.Decode(&info); err != nil {
					s.log.Debug("subscribe payload ignored", "err", err)
				}
			}
			clientID = msg.ClientID
			if clientID == "" {
				clientID = uuid.NewString()
			}
			client.origin = info.Origin
			client.colorProfile = info.ColorProfile
			client.width, client.height = info.Width, info.Height
			s.addClient(clientID, client)
			s.log.Info("overlay subscribed", "client", clientID, "origin", info.Origin, "profile", info.ColorProfile)
			if s.OnSubscribe != nil {
				s.OnSubscribe(clientID, info)
			}
			s.reply(client, msg, clientID, nil)

		case MsgUnsubscribe:
			s.reply(client, msg, nil, nil)
			return

		case MsgPing:
			_ = client.send(Message{Type: MsgPong, ID: msg.ID})

		default:
			if s.OnRequest == nil {
				s.reply(client, msg, nil, fmt.Errorf("no handler for %s", msg.Type))
				continue
			}
			reqCtx := logx.ContextWithClient(ctx, msg.ClientID)
			result, err := s.OnRequest(reqCtx, msg.ClientID, msg)
			if err != nil {
				logx.Ctx(reqCtx).Debug("request failed", "type", msg.Type, "err", err)
			}
			s.reply(client, msg, result, err)
		}
	}
}

func (s *Server) addClient(id string, c *clientInfo) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[id] = c
	close(s.joined)
	s.joined = make(chan struct{})
}

func (s *Server) removeClient(id string, c *clientInfo) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients[id] == c {
		delete(s.clients, id)
		s.log.Info("overlay disconnected", "client", id)
	}
}

// reply answers msg when it carries an ID.
func (s *Server) reply(c *clientInfo, msg Message, result any, err error) {
	if msg.ID == "" {
		return
	}
	res := ResultPayload{OK: err == nil}
	if err != nil {
		res.Error = err.Error()
	} else if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			res = ResultPayload{Error: merr.Error()}
		} else {
			res.Payload = data
		}
	}
	out, merr := NewMessage(MsgResult, res)
	if merr != nil {
		s.log.Warn("encode result", "err", merr)
		return
	}
	out.ID = msg.ID
	if werr := c.send(out); werr != nil {
		s.log.Debug("reply failed", "type", msg.Type, "err", werr)
	}
}

// Broadcast sends msg to every subscribed overlay. It fails with
// ErrNoClients when none is subscribed and with the last write error when no
// overlay received it.
func (s *Server) Broadcast(msg Message) error {
	s.clientsMu.RLock()
	targets := make(map[string]*clientInfo, len(s.clients))
	for id, c := range s.clients {
		targets[id] = c
	}
	s.clientsMu.RUnlock()
	if len(targets) == 0 {
		return ErrNoClients
	}

	var lastErr error
	delivered := 0
	for id, c := range targets {
		out := msg
		out.ClientID = id
		if err := c.send(out); err != nil {
			lastErr = err
			s.log.Debug("broadcast failed", "client", id, "type", msg.Type, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%s: %w", msg.Type, lastErr)
	}
	return nil
}

func (s *Server) broadcastPayload(t MessageType, payload any) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	return s.Broadcast(msg)
}

// ShowPanel implements session.Port.
func (s *Server) ShowPanel(_ context.Context, panel session.Panel) error {
	return s.broadcastPayload(MsgShowPanel, panel)
}

// UpdateSelection implements session.Port.
func (s *Server) UpdateSelection(_ context.Context, selected tabs.ID) error {
	return s.broadcastPayload(MsgUpdateSelection, SelectionPayload{SelectedTabID: selected})
}

// HidePanel implements session.Port. Hiding with no overlay connected is
// not an error.
func (s *Server) HidePanel(context.Context) error {
	err := s.broadcastPayload(MsgHidePanel, nil)
	if errors.Is(err, ErrNoClients) {
		return nil
	}
	return err
}

var _ session.Port = (*Server)(nil)
