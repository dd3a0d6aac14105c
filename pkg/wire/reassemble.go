package wire

// Reassembler turns an arbitrarily-chunked byte stream — as delivered by
// a single TCP sub-connection, which may split or coalesce frames at any
// byte boundary — back into complete Frames. It is not safe for
// concurrent use; each sub-connection owns one.
//
// Grounded on solomonwzs-muxstream/frame.go's incremental header-then-
// body read loop, adapted from that file's fixed 8-byte header to the
// variable-length PacketLength-then-StreamID prefix spec.md §4.1
// requires.
type Reassembler struct {
	pending []byte

	havingLength bool
	bodyLen      uint64
}

// NewReassembler returns a Reassembler ready to consume bytes from a
// fresh sub-connection.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends data to the internal buffer and extracts every Frame that
// is now fully buffered. It returns ErrBadLength, ErrOverLength, or
// ErrBadVarint if the stream violates the framing protocol; the caller
// must treat that as a fatal, connection-closing error per spec.md §7.
func (r *Reassembler) Feed(data []byte) ([]Frame, error) {
	r.pending = append(r.pending, data...)

	var out []Frame
	for {
		if !r.havingLength {
			total, n, err := decodeLength(r.pending)
			if err == errIncomplete {
				break
			}
			if err != nil {
				return out, err
			}
			r.bodyLen = uint64(total)
			r.pending = r.pending[n:]
			r.havingLength = true
		}

		if uint64(len(r.pending)) < r.bodyLen {
			break
		}

		body := r.pending[:r.bodyLen]
		r.pending = r.pending[r.bodyLen:]
		r.havingLength = false

		sid, n, err := DecodeStreamID(body)
		if err != nil {
			return out, err
		}
		var payload []byte
		if len(body) > n {
			payload = make([]byte, len(body)-n)
			copy(payload, body[n:])
		}
		out = append(out, Frame{StreamID: sid, Payload: payload})
	}
	return out, nil
}
