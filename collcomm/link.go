package collcomm

import "fmt"

// A LinkRole decides which endpoint of a link connects
// and which one listens while the link is established.
type LinkRole int

const (
	Initiator LinkRole = iota
	Responder
)

// String returns the name of the role.
func (l LinkRole) String() string {
	switch l {
	case Initiator:
		return "Initiator"
	case Responder:
		return "Responder"
	}
	return fmt.Sprintf("LinkRole(%d)", int(l))
}

// Complement returns the role the other endpoint of an
// edge must play.
func (l LinkRole) Complement() LinkRole {
	if l == Initiator {
		return Responder
	}
	return Initiator
}

// A Link is an established, bidirectional connection to a
// remote rank.
//
// Every method only enqueues work on the given Stream.
// An error means the work could not be enqueued; an
// error for which IsTransientTeardown is true means the
// communicator owning the link is being destroyed.
type Link interface {
	// RemoteRank is the user rank of the other endpoint.
	RemoteRank() UserRank

	// IsRDMA reports whether the transport is a
	// remote-direct-memory kind, which replaces the first
	// Ack exchange with a one-sided buffer announcement.
	IsRDMA() bool

	TxAck(s Stream) error
	RxAck(s Stream) error

	// TxAsync sends src to the remote buffer of the given
	// kind at the given offset.
	TxAsync(kind MemKind, offset uint64, src Mem, s Stream) error

	// RxAsync receives data targeted at the given buffer
	// kind and offset into dst.
	RxAsync(kind MemKind, offset uint64, dst Mem, s Stream) error

	TxDataSignal(s Stream) error
	RxDataSignal(s Stream) error

	// TxEnv announces the local destination buffers to
	// the peer; RxEnv consumes the peer's announcement.
	TxEnv(s Stream) error
	RxEnv(s Stream) error

	// RemoteMem returns the peer's registered buffer of
	// the given kind.
	RemoteMem(kind MemKind) (Mem, error)
}

// A TransportRequest asks the connection collaborator for
// a link between two ranks.
//
// Invalid requests only keep positional indexing and
// must never be connected.
type TransportRequest struct {
	Valid      bool
	LocalRank  UserRank
	RemoteRank UserRank
	InputKind  MemKind
	OutputKind MemKind

	// Role is the role the local rank plays when the link
	// is established.
	Role LinkRole
}

// A Connector turns transport requests into live links.
//
// The returned slice has one entry per request; invalid
// requests yield nil entries.
type Connector interface {
	Connect(tag string, reqs []TransportRequest) ([]Link, error)
}

// A Disconnector is a Connector that can release the
// links it created. Later calls on released links report
// a transient teardown.
type Disconnector interface {
	Connector
	Disconnect(links []Link) error
}
