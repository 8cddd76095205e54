package devsim

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/hcoll/collcomm"
)

func TestMemoryRange(t *testing.T) {
	w := NewWorld(1, Options{})
	dev := w.Device(0)
	a, b := dev.Alloc(100), dev.Alloc(10)
	assert.NotEqual(t, a.Addr(), b.Addr())
	assert.Zero(t, a.Addr()%pageSize)

	sub := a.Range(10, 20)
	assert.Equal(t, a.Addr()+10, sub.Addr())
	assert.EqualValues(t, 20, sub.Size())
	assert.True(t, collcomm.SameMem(sub, a.Range(10, 20)))
	assert.False(t, collcomm.SameMem(sub, a.Range(10, 21)))

	sub.(*Memory).Bytes()[0] = 7
	assert.EqualValues(t, 7, a.Bytes()[10])

	assert.Panics(t, func() { a.Range(90, 11) })
	assert.NotPanics(t, func() { a.Range(100, 0) })
}

func TestStreamMemcpyAndSignals(t *testing.T) {
	w := NewWorld(1, Options{})
	dev := w.Device(0)
	src, dst := dev.Alloc(16), dev.Alloc(16)
	src.WriteFloat64s([]float64{1, 2})

	main := dev.MainStream()
	aux := dev.StreamPool("tag").Streams(1)[0]
	sig := must.M1(dev.NewSignal("ready"))

	// aux copies only after main posts the signal.
	require.NoError(t, aux.Wait(sig))
	require.NoError(t, aux.Memcpy(dst, src))
	require.NoError(t, main.Memcpy(src, dst))
	require.NoError(t, main.Post(sig))

	require.NoError(t, w.Run())
	assert.Equal(t, []float64{0, 0}, dst.Float64s())
	assert.Equal(t, 2, w.Stats(0).Copies)

	err := main.Memcpy(dst, dev.Alloc(8))
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestStreamForeignSignal(t *testing.T) {
	w := NewWorld(2, Options{})
	sig := must.M1(w.Device(1).NewSignal("x"))
	err := w.Device(0).MainStream().Post(sig)
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestStreamPool(t *testing.T) {
	w := NewWorld(1, Options{})
	pool := w.Device(0).StreamPool("a")
	first := pool.Streams(2)
	second := pool.Streams(3)
	assert.Len(t, second, 3)
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[1], second[1])
	assert.Same(t, pool, w.Device(0).StreamPool("a"))
	w.Device(0).Release("a")
	assert.NotSame(t, pool, w.Device(0).StreamPool("a"))
}

func TestReduce(t *testing.T) {
	w := NewWorld(1, Options{})
	dev := w.Device(0)
	a, b := dev.Alloc(24), dev.Alloc(24)
	a.WriteFloat64s([]float64{1, 2, 3})
	b.WriteFloat64s([]float64{10, 20, 30})
	require.NoError(t, dev.Reduce(dev.MainStream(), a, a, b, 3, collcomm.Float64, collcomm.Sum))
	require.NoError(t, w.Run())
	assert.Equal(t, []float64{11, 22, 33}, a.Float64s())
	assert.InDelta(t, 3*FlopTime, w.Time(), 1e-12)

	err := dev.Reduce(dev.MainStream(), a, a, b, 4, collcomm.Float64, collcomm.Sum)
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func connectPair(t *testing.T, w *World, tag string) (collcomm.Link, collcomm.Link) {
	l0 := must.M1(w.Connector(0).Connect(tag, []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 1, Role: collcomm.Initiator},
	}))
	l1 := must.M1(w.Connector(1).Connect(tag, []collcomm.TransportRequest{
		{},
		{Valid: true, LocalRank: 1, RemoteRank: 0, Role: collcomm.Responder},
	}))
	require.Nil(t, l1[0])
	require.Empty(t, w.Unpaired(tag))
	return l0[0], l1[1]
}

func TestLinkTransfer(t *testing.T) {
	for _, rdma := range []bool{false, true} {
		w := NewWorld(2, Options{Rate: 100, Latency: 1, RDMA: rdma})
		l0, l1 := connectPair(t, w, "t")
		assert.Equal(t, rdma, l0.IsRDMA())
		assert.EqualValues(t, 1, l0.RemoteRank())
		assert.EqualValues(t, 0, l1.RemoteRank())

		src := w.Device(0).Alloc(16)
		src.WriteFloat64s([]float64{3, 4})
		dst := w.Device(1).Alloc(32)
		w.Device(1).Register(collcomm.MemOutput, dst)

		s0, s1 := w.Device(0).MainStream(), w.Device(1).MainStream()
		require.NoError(t, l0.TxEnv(s0))
		require.NoError(t, l1.RxEnv(s1))
		require.NoError(t, l0.TxAsync(collcomm.MemOutput, 16, src, s0))
		require.NoError(t, l1.RxAsync(collcomm.MemOutput, 16, dst.Range(16, 16), s1))
		require.NoError(t, l1.TxDataSignal(s1))
		require.NoError(t, l0.RxDataSignal(s0))
		require.NoError(t, w.Run())

		assert.Equal(t, []float64{0, 0, 3, 4}, dst.Float64s())
		assert.InDelta(t, 1.0+16.0/100.0+1.0, w.Time(), 1e-9)

		remote := must.M1(l0.RemoteMem(collcomm.MemOutput))
		assert.True(t, collcomm.SameMem(dst, remote))
		_, err := l0.RemoteMem(collcomm.MemScratch)
		assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))

		err = l0.TxAsync(collcomm.MemOutput, 24, src, s0)
		assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
	}
}

func TestLinkSizeMismatch(t *testing.T) {
	w := NewWorld(2, Options{})
	l0, l1 := connectPair(t, w, "t")
	require.NoError(t, l0.TxAsync(collcomm.MemScratch, 0, w.Device(0).Alloc(8), w.Device(0).MainStream()))
	require.NoError(t, l1.RxAsync(collcomm.MemScratch, 0, w.Device(1).Alloc(16), w.Device(1).MainStream()))
	err := w.Run()
	assert.Equal(t, collcomm.CodeInternal, collcomm.CodeOf(err))
}

func TestFabricPairing(t *testing.T) {
	w := NewWorld(3, Options{})

	// Both ends claiming the initiator role never pair.
	must.M1(w.Connector(0).Connect("bad", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 2, Role: collcomm.Initiator},
	}))
	must.M1(w.Connector(2).Connect("bad", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 2, RemoteRank: 0, Role: collcomm.Initiator},
	}))
	assert.Len(t, w.Unpaired("bad"), 2)

	_, err := w.Connector(0).Connect("bad", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 2, Role: collcomm.Initiator},
	})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))

	_, err = w.Connector(0).Connect("x", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 0},
	})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))

	_, err = w.Connector(0).Connect("x", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 9},
	})
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))

	_, err = w.Connector(1).Connect("x", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 2},
	})
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestDisconnect(t *testing.T) {
	w := NewWorld(2, Options{})
	l0, l1 := connectPair(t, w, "t")
	s1 := w.Device(1).MainStream()
	require.NoError(t, l1.RxAck(s1))

	conn := w.Connector(0).(collcomm.Disconnector)
	require.NoError(t, conn.Disconnect([]collcomm.Link{l0}))

	// Enqueued work fails when it runs, new work right
	// away.
	assert.True(t, collcomm.IsTransientTeardown(l0.TxAck(w.Device(0).MainStream())))
	_, err := l1.RemoteMem(collcomm.MemOutput)
	assert.True(t, collcomm.IsTransientTeardown(err))
	assert.True(t, collcomm.IsTransientTeardown(w.Run()))
}

func TestSwitchedSharesSendRate(t *testing.T) {
	for _, switched := range []bool{false, true} {
		w := NewWorld(3, Options{Rate: 1000, Seed: 1, Switched: switched})
		links := must.M1(w.Connector(0).Connect("t", []collcomm.TransportRequest{
			{},
			{Valid: true, LocalRank: 0, RemoteRank: 1, Role: collcomm.Initiator},
			{Valid: true, LocalRank: 0, RemoteRank: 2, Role: collcomm.Initiator},
		}))
		src := w.Device(0).Alloc(1000)
		for peer := 1; peer <= 2; peer++ {
			rank := collcomm.UserRank(peer)
			remote := must.M1(w.Connector(rank).Connect("t", []collcomm.TransportRequest{
				{Valid: true, LocalRank: rank, RemoteRank: 0, Role: collcomm.Responder},
			}))
			require.NoError(t, links[peer].TxAsync(collcomm.MemScratch, 0, src, w.Device(0).MainStream()))
			dst := w.Device(rank).Alloc(1000)
			require.NoError(t, remote[0].RxAsync(collcomm.MemScratch, 0, dst, w.Device(rank).MainStream()))
		}
		require.NoError(t, w.Run())

		// Both transfers leave rank 0 at the same time.
		if switched {
			assert.InDelta(t, 2.0, w.Time(), 1e-9)
		} else {
			assert.InDelta(t, 1.0, w.Time(), 1e-9)
		}
	}
}

func TestConnectFailureLeavesNoJoinedLinks(t *testing.T) {
	w := NewWorld(2, Options{})
	_, err := w.Connector(0).Connect("t", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 1, Role: collcomm.Initiator},
		{Valid: true, LocalRank: 0, RemoteRank: 5, Role: collcomm.Initiator},
	})
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))
	assert.Empty(t, w.Unpaired("t"))

	l0, l1 := connectPair(t, w, "t")
	s0, s1 := w.Device(0).MainStream(), w.Device(1).MainStream()
	require.NoError(t, l0.TxAck(s0))
	require.NoError(t, l1.RxAck(s1))
	require.NoError(t, w.Run())
}

func TestDisconnectUnpairedLink(t *testing.T) {
	w := NewWorld(2, Options{})
	links := must.M1(w.Connector(0).Connect("t", []collcomm.TransportRequest{
		{Valid: true, LocalRank: 0, RemoteRank: 1, Role: collcomm.Initiator},
	}))
	assert.Len(t, w.Unpaired("t"), 1)
	conn := w.Connector(0).(collcomm.Disconnector)
	require.NoError(t, conn.Disconnect(links))
	assert.Empty(t, w.Unpaired("t"))

	// The tag can be set up again, and nothing counts as
	// torn down.
	l0, l1 := connectPair(t, w, "t")
	require.NoError(t, l1.TxAck(w.Device(1).MainStream()))
	require.NoError(t, l0.RxAck(w.Device(0).MainStream()))
	require.NoError(t, w.Run())
}
