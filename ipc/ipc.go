// Package ipc implements the local operator control surface (spec.md
// §3.1 supplement): a Unix domain socket accepting line-oriented text
// commands, grounded on original_source/RoutingManager.py's UDS command
// dispatch loop.
package ipc

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/digineo/go-ping"

	"github.com/adhocrl/adhocrl/arq"
	"github.com/adhocrl/adhocrl/neighbor"
	"github.com/adhocrl/adhocrl/pathdiscovery"
	"github.com/adhocrl/adhocrl/routetable"
)

// Backend is the subset of *daemon.Daemon the IPC server inspects and
// drives. Declared here rather than imported to avoid a daemon<->ipc
// import cycle, the same pattern neighbor.RouteInstaller uses.
type Backend interface {
	Table() *routetable.Table
	Neighbors() *neighbor.Set
	ARQ() *arq.Manager
	Discovery() *pathdiscovery.Manager
	Inject(dst netip.Addr, datagram []byte) error
}

// Server listens on a Unix domain socket and serves commands against a
// Backend until Close is called.
type Server struct {
	ln     net.Listener
	backend Backend
	logger *slog.Logger
}

// Listen removes any stale socket file at path and binds a new one.
func Listen(path string, backend Backend, logger *slog.Logger) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	return &Server{ln: ln, backend: backend, logger: logger}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(line)
		if _, err := io.WriteString(conn, reply+"\n"); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "dump":
		return s.dump()
	case "neighbors":
		return s.neighborsReport()
	case "inject":
		return s.inject(args)
	case "ping":
		return s.ping(args)
	default:
		return "ERR unknown command: " + cmd
	}
}

func (s *Server) dump() string {
	var b strings.Builder
	for _, row := range s.backend.Table().Snapshot() {
		fmt.Fprintf(&b, "%s:", row.Dest)
		for mac, v := range row.Values {
			fmt.Fprintf(&b, " %s=%.3f", mac, v)
		}
		b.WriteString(";")
	}
	b.WriteString(fmt.Sprintf(" pending_arq=%d", s.backend.ARQ().PendingCount()))
	return b.String()
}

func (s *Server) neighborsReport() string {
	var b strings.Builder
	for _, n := range s.backend.Neighbors().Snapshot() {
		fmt.Fprintf(&b, "%s gw=%v last_seen=%s;", n.MAC, n.GWMode, n.LastSeen.Format(time.RFC3339))
	}
	return b.String()
}

func (s *Server) inject(args []string) string {
	if len(args) != 2 {
		return "ERR usage: inject <dst_ip> <hex payload>"
	}
	dst, err := netip.ParseAddr(args[0])
	if err != nil {
		return "ERR bad dst_ip: " + err.Error()
	}
	payload, err := hex.DecodeString(args[1])
	if err != nil {
		return "ERR bad hex payload: " + err.Error()
	}
	if err := s.backend.Inject(dst, payload); err != nil {
		return "ERR inject: " + err.Error()
	}
	return "OK"
}

// ping performs a diagnostic ICMP echo to the given address over the
// host's regular IP stack (not the mesh), for operator connectivity
// checks to a node's tunnel address once a route exists.
func (s *Server) ping(args []string) string {
	if len(args) != 1 {
		return "ERR usage: ping <ip>"
	}
	target, err := netip.ParseAddr(args[0])
	if err != nil {
		return "ERR bad ip: " + err.Error()
	}

	bind4, bind6 := "0.0.0.0", "::"
	pinger, err := ping.New(bind4, bind6)
	if err != nil {
		return "ERR pinger: " + err.Error()
	}
	defer pinger.Close()

	addr := &net.IPAddr{IP: net.IP(target.AsSlice())}
	rtt, err := pinger.PingAttempts(addr, 500*time.Millisecond, 3)
	if err != nil {
		return "ERR unreachable: " + err.Error()
	}
	return "OK rtt=" + strconv.FormatInt(rtt.Milliseconds(), 10) + "ms"
}
