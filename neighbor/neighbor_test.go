package neighbor

import (
	"net/netip"
	"testing"
	"time"

	"github.com/adhocrl/adhocrl/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	updates []struct {
		dst netip.Addr
		mac wire.MAC
		r   float64
	}
	dropped []wire.MAC
}

func (f *fakeTable) AddRoute(dst netip.Addr, mac wire.MAC) { f.Update(dst, mac, 0) }
func (f *fakeTable) Update(dst netip.Addr, mac wire.MAC, reward float64) {
	f.updates = append(f.updates, struct {
		dst netip.Addr
		mac wire.MAC
		r   float64
	}{dst, mac, reward})
}
func (f *fakeTable) DropNeighbor(mac wire.MAC) { f.dropped = append(f.dropped, mac) }

func TestUpsertInstallsRouteOnFirstHello(t *testing.T) {
	ft := &fakeTable{}
	s := New(7*time.Second, 50, 100, ft, wire.MAC{0xff})
	mac := wire.MAC{1}
	ip := netip.MustParseAddr("10.0.0.2")
	s.Upsert(mac, []netip.Addr{ip}, nil, false, time.Now())

	require.True(t, s.IsAlive(mac))
	require.Len(t, ft.updates, 1)
	assert.Equal(t, 50.0, ft.updates[0].r)
}

func TestUpsertIdempotentForUnchangedAdvertisement(t *testing.T) {
	ft := &fakeTable{}
	s := New(7*time.Second, 50, 100, ft, wire.MAC{0xff})
	mac := wire.MAC{1}
	ip := netip.MustParseAddr("10.0.0.2")
	now := time.Now()
	s.Upsert(mac, []netip.Addr{ip}, nil, false, now)
	s.Upsert(mac, []netip.Addr{ip}, nil, false, now.Add(time.Second))

	assert.Len(t, ft.updates, 1, "reward should not re-apply for an unchanged advertisement")
}

func TestSweepEvictsExpiredAndDropsFromTable(t *testing.T) {
	ft := &fakeTable{}
	s := New(time.Second, 50, 100, ft, wire.MAC{0xff})
	mac := wire.MAC{1}
	s.Upsert(mac, []netip.Addr{netip.MustParseAddr("10.0.0.2")}, nil, false, time.Now().Add(-2*time.Second))

	expired := s.Sweep(time.Now())
	require.Equal(t, []wire.MAC{mac}, expired)
	require.False(t, s.IsAlive(mac))
	require.Equal(t, []wire.MAC{mac}, ft.dropped)
}

func TestIgnoresOwnHello(t *testing.T) {
	ft := &fakeTable{}
	self := wire.MAC{0xff}
	s := New(7*time.Second, 50, 100, ft, self)
	s.Upsert(self, []netip.Addr{netip.MustParseAddr("10.0.0.2")}, nil, false, time.Now())
	require.False(t, s.IsAlive(self))
	require.Empty(t, ft.updates)
}
