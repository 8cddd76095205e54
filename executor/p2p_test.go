package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/hcoll/collcomm"
)

func TestSendRecv(t *testing.T) {
	for _, rdma := range []bool{false, true} {
		job := newTestJob(Send, 2, 12)
		job.opts.RDMA = rdma
		job.allocate()
		job.ranks[0].input.WriteFloat64s(rankValues(7, 12))
		job.run(t)
		assert.Equal(t, rankValues(7, 12), job.ranks[1].output.Float64s())
	}
}

func TestSendRemoteTooSmall(t *testing.T) {
	job := newTestJob(Send, 2, 12)
	job.outputBytes = 8
	job.allocate()
	err := job.enqueue()
	assert.Equal(t, collcomm.CodeParameter, collcomm.CodeOf(err))
}

func TestSendUnknownPeer(t *testing.T) {
	fake := newFakeLinks(2, 0, []bool{false, true})
	exec := NewSend(DefaultConfig())
	params := fake.params(64)
	params.Peer = 5
	require.NoError(t, exec.Prepare(params))
	err := exec.RunAsync(0, 2, fake.links)
	assert.Equal(t, collcomm.CodeNotFound, collcomm.CodeOf(err))
}
