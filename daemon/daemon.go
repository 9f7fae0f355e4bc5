// Package daemon implements component J: process lifecycle. It wires
// together every other component, starts one long-lived goroutine per
// responsibility (spec.md §5: "goroutine-per-responsibility... not a
// single dispatch loop"), and tears them all down on Stop. Grounded on
// encodeous-nylon/core/entrypoint.go's Bootstrap/Start/Stop shape and its
// module Init/Cleanup interface, generalized from nylon's one
// dispatch-channel loop to independent workers synchronized only through
// the shared table/neighbor/discovery/arq/reward objects' own locks.
package daemon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/adhocrl/adhocrl/arq"
	"github.com/adhocrl/adhocrl/config"
	"github.com/adhocrl/adhocrl/datapath"
	"github.com/adhocrl/adhocrl/neighbor"
	"github.com/adhocrl/adhocrl/pathdiscovery"
	"github.com/adhocrl/adhocrl/reward"
	"github.com/adhocrl/adhocrl/routetable"
	"github.com/adhocrl/adhocrl/transport"
	"github.com/adhocrl/adhocrl/tundev"
	"github.com/adhocrl/adhocrl/wire"
)

// Daemon owns every long-lived object and worker goroutine for one node.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	tun  tundev.Device
	phys transport.Transport

	table     *routetable.Table
	neighbors *neighbor.Set
	discovery *pathdiscovery.Manager
	arqMgr    *arq.Manager
	waitRwd   *reward.WaitHandler
	sendRwd   *reward.SendHandler
	handler   *datapath.Handler

	nodeID   uint32
	selfIPv4 *[4]byte
	selfIPv6 *[16]byte
	txCount  atomic.Uint32

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New builds every component and wires them together, but starts no
// goroutines yet - see Run. selfIPs are the tunnel addresses this node
// owns. The first IPv4 and first IPv6 address are advertised in HELLOs;
// datapath.Handler puts one of them, of the destination's family, in the
// src_ip of the RREQs it originates (with several addresses of a family,
// which one is not defined).
func New(cfg config.Config, logger *slog.Logger, tun tundev.Device, phys transport.Transport, selfIPs []netip.Addr) *Daemon {
	var neighbors *neighbor.Set
	alive := func(m wire.MAC) bool { return neighbors.IsAlive(m) }
	table := routetable.New(cfg.Tau, cfg.Alpha, cfg.VInit, alive, time.Now().UnixNano())
	neighbors = neighbor.New(cfg.NeighborTTL, cfg.HelloRouteReward, cfg.SelfRouteReward, table, phys.LocalMAC())

	discovery := pathdiscovery.New(cfg.RreqDeadline, cfg.PendingQueueMax, cfg.RreqDeadline*4)
	arqMgr := arq.New(cfg.ArqRetryInterval, cfg.ArqMaxRetries, cfg.ArqSuccessReward, cfg.ArqFailReward, phys, table.Update, cfg.RreqDeadline*4)
	waitRwd := reward.NewWaitHandler(cfg.RewardWait, cfg.HopRewardTimeout, table)
	sendRwd := reward.NewSendHandler(cfg.RewardHoldOn, table, phys.LocalMAC())

	handler := datapath.New(cfg, tun, phys, table, neighbors, discovery, arqMgr, waitRwd, sendRwd, selfIPs, logger)

	ctx, cancel := context.WithCancelCause(context.Background())

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		tun:       tun,
		phys:      phys,
		table:     table,
		neighbors: neighbors,
		discovery: discovery,
		arqMgr:    arqMgr,
		waitRwd:   waitRwd,
		sendRwd:   sendRwd,
		handler:   handler,
		nodeID:    macToNodeID(phys.LocalMAC()),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, ip := range selfIPs {
		neighbors.BootstrapSelf(ip)
		if ip.Is4() && d.selfIPv4 == nil {
			v4 := ip.As4()
			d.selfIPv4 = &v4
		} else if ip.Is6() && !ip.Is4In6() && d.selfIPv6 == nil {
			v6 := ip.As16()
			d.selfIPv6 = &v6
		}
	}
	return d
}

// Run starts every worker goroutine and blocks until the daemon's
// context is cancelled (by Stop, a caught signal, or a fatal worker
// error), then tears everything down. It returns the cause context.Cause
// reports, or nil on a clean Stop.
func (d *Daemon) Run() error {
	d.logger.Info("starting", "physical_iface", d.cfg.PhysicalIface, "tun_iface", d.cfg.TunIface)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			d.cancel(fmt.Errorf("received signal %s", sig))
		case <-d.ctx.Done():
		}
	}()

	workers := []func(){
		d.helloLoop,
		d.sweepLoop,
		d.tunReadLoop,
		d.physRecvLoop,
	}
	for _, w := range workers {
		d.wg.Add(1)
		go func(fn func()) {
			defer d.wg.Done()
			fn()
		}(w)
	}

	<-d.ctx.Done()
	cause := context.Cause(d.ctx)
	d.logger.Info("shutting down", "cause", cause)
	d.teardown()
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// Stop requests a graceful shutdown; Run returns once every worker has
// drained.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.cancel(context.Canceled)
	})
}

func (d *Daemon) teardown() {
	_ = d.phys.Close()
	_ = d.tun.Close()
	d.wg.Wait()
}

// helloLoop broadcasts a HELLO every HELLO_INTERVAL (spec.md §4.C).
func (d *Daemon) helloLoop() {
	ticker := time.NewTicker(d.cfg.HelloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sendHello()
		}
	}
}

func (d *Daemon) sendHello() {
	hello := &wire.HelloHeader{
		NodeID:  d.nodeID,
		TxCount: d.txCount.Add(1),
		IPv4:    d.selfIPv4,
		IPv6:    d.selfIPv6,
		GWMode:  d.cfg.GatewayMode,
	}
	if err := d.phys.Send(wire.BroadcastMAC, hello.Encode()); err != nil {
		d.logger.Warn("hello send failed", "error", err)
	}
}

// macToNodeID derives the stable 32-bit identity HELLO/RREQ/RREP frames
// carry from a link-layer address, the same scheme datapath.Handler uses
// for its own nodeID.
func macToNodeID(mac wire.MAC) uint32 {
	return binary.BigEndian.Uint32(mac[2:6])
}

// sweepLoop runs every periodic maintenance pass on a single ticker,
// per spec.md §5's "one sweep worker, not one timer per record" clause:
// neighbor TTL eviction, path-discovery deadline/dedup pruning, ARQ
// retransmission, and reward-wait timeout application.
func (d *Daemon) sweepLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			d.neighbors.Sweep(now)
			d.discovery.Sweep(now)
			d.arqMgr.Sweep(now)
			d.waitRwd.Sweep(now)
		}
	}
}

// tunReadLoop pulls application datagrams off the tunnel and feeds them
// into the outbound half of the data handler.
func (d *Daemon) tunReadLoop() {
	buf := make([]byte, 65535)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		n, err := d.tun.Read(buf)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.logger.Warn("tun read failed", "error", err)
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		if err := d.handler.HandleOutbound(datagram, time.Now()); err != nil {
			d.logger.Warn("outbound handling failed", "error", err)
		}
	}
}

// physRecvLoop pulls frames off the physical transport and feeds them
// into the inbound dispatch half of the data handler.
func (d *Daemon) physRecvLoop() {
	for {
		frame, err := d.phys.Recv(d.ctx)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.logger.Warn("transport recv failed", "error", err)
			continue
		}
		if err := d.handler.HandleFrame(frame, time.Now()); err != nil {
			d.logger.Debug("dropped inbound frame", "error", err)
		}
	}
}

// Table, Neighbors, ARQ, and Discovery expose the shared components for
// the local IPC status/dump commands (spec.md §3.1 supplement).
func (d *Daemon) Table() *routetable.Table          { return d.table }
func (d *Daemon) Neighbors() *neighbor.Set          { return d.neighbors }
func (d *Daemon) ARQ() *arq.Manager                 { return d.arqMgr }
func (d *Daemon) Discovery() *pathdiscovery.Manager { return d.discovery }

// Inject hands datagram to the outbound half of the data handler as if
// it had been read off the tunnel, for the local IPC "inject" command.
func (d *Daemon) Inject(dst netip.Addr, datagram []byte) error {
	return d.handler.HandleOutbound(datagram, time.Now())
}
