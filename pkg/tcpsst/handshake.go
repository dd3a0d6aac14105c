package tcpsst

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Wire handshake, per spec.md §6: the first sub-connection carries
// magic "SST", version=1, the chosen width, and a random session
// nonce; later sub-connections send only the nonce to associate with
// the same session.
const (
	handshakeMagic   = "SST"
	protocolVersion  = 1
	initialHeaderLen = 3 + 1 + 1 + 8
)

func writeInitialHandshake(conn net.Conn, width uint8, nonce uint64) error {
	buf := make([]byte, initialHeaderLen)
	copy(buf, handshakeMagic)
	buf[3] = protocolVersion
	buf[4] = width
	binary.BigEndian.PutUint64(buf[5:], nonce)
	_, err := conn.Write(buf)
	return err
}

func readInitialHandshake(r io.Reader) (width uint8, nonce uint64, err error) {
	buf := make([]byte, initialHeaderLen)
	if _, err = io.ReadFull(r, buf); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if string(buf[0:3]) != handshakeMagic {
		return 0, 0, fmt.Errorf("%w: bad magic", ErrHandshakeFailed)
	}
	if buf[3] != protocolVersion {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrHandshakeFailed, buf[3])
	}
	width = buf[4]
	nonce = binary.BigEndian.Uint64(buf[5:])
	return width, nonce, nil
}

func writeNonceOnly(conn net.Conn, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	_, err := conn.Write(buf[:])
	return err
}

func readNonceOnly(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
