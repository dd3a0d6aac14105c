package tcpsst

import "github.com/tcpsst/tcpsst/pkg/wire"

// Reliability is the three legal send modes a LogicalStream exposes;
// the fourth combination (ordered+unreliable) has no constructor and
// is rejected by send with ErrIllegalReliability.
type Reliability int

const (
	ReliableOrdered Reliability = iota
	ReliableUnordered
	Unreliable
)

// rawRequest is a send unit handed from a LogicalStream down into the
// MultiplexedSocket's routing logic, per spec.md §3's RawRequest.
type rawRequest struct {
	originStream wire.StreamID
	unordered    bool
	unreliable   bool
	payload      []byte
}

func newRawRequest(sid wire.StreamID, r Reliability, payload []byte) (rawRequest, error) {
	req := rawRequest{originStream: sid, payload: payload}
	switch r {
	case ReliableOrdered:
	case ReliableUnordered:
		req.unordered = true
	case Unreliable:
		req.unordered = true
		req.unreliable = true
	default:
		return rawRequest{}, ErrIllegalReliability
	}
	return req, nil
}
