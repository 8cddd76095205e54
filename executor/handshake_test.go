package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/devsim"
)

func TestExchangeOrder(t *testing.T) {
	data := &transfer{kind: collcomm.MemOutput, mem: devsim.NewMemory(16)}
	empty := &transfer{kind: collcomm.MemOutput, mem: devsim.NewMemory(0)}
	cases := []struct {
		name       string
		rdma       bool
		send, recv *transfer
		expected   []string
	}{
		{
			name: "TwoSided",
			send: data,
			recv: data,
			expected: []string{
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxAsync(1)", "main:RxAsync(1)",
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
		{
			name: "TwoSidedSendOnly",
			send: data,
			recv: empty,
			expected: []string{
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxAsync(1)",
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
		{
			name: "RDMA",
			rdma: true,
			send: data,
			recv: data,
			expected: []string{
				"main:TxEnv(1)", "main:RxEnv(1)",
				"main:TxAsync(1)", "main:RxAsync(1)",
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
		{
			name: "RDMARecvOnly",
			rdma: true,
			recv: data,
			expected: []string{
				"main:TxEnv(1)", "main:RxEnv(1)",
				"main:RxAsync(1)",
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
		{
			name: "NoData",
			send: empty,
			expected: []string{
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
		{
			name: "RDMANoData",
			rdma: true,
			expected: []string{
				"main:TxAck(1)", "main:RxAck(1)",
				"main:TxDataSignal(1)", "main:RxDataSignal(1)",
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fake := newFakeLinks(2, 0, allPeers(2))
			l := fake.links[1].(*fakeLink)
			l.rdma = c.rdma
			s := &fakeStream{owner: fake, id: "main"}
			require.NoError(t, exchange(s, l, c.send, c.recv))
			assert.Equal(t, c.expected, fake.ops)
		})
	}
}

func TestExchangeStopsAtFailure(t *testing.T) {
	data := &transfer{kind: collcomm.MemOutput, mem: devsim.NewMemory(16)}
	fake := newFakeLinks(2, 0, allPeers(2))
	fake.failAt = 3
	s := &fakeStream{owner: fake, id: "main"}
	err := exchange(s, fake.links[1], data, nil)
	assert.True(t, collcomm.IsTransientTeardown(err))
	assert.Equal(t, []string{"main:TxAck(1)", "main:RxAck(1)"}, fake.ops)
}
