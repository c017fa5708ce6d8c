package etherlink

import (
	"net"
	"time"

	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/sock"
)

// Header describes one transfer on the wire: an 8-byte little-endian header
// followed by DataLen payload bytes.
type Header = framing.Header

// HeaderSize is the encoded header length.
const HeaderSize = framing.HeaderSize

// Client is a minimal client for a Server listener.
type Client struct {
	conn *sock.Conn
	hdr  [HeaderSize]byte
}

// Dial connects to a Server listener.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: sock.NewConn(c)}, nil
}

// Send transmits one transfer. h.DataLen is set from payload.
func (c *Client) Send(h Header, payload []byte) error {
	h.DataLen = uint16(len(payload))
	h.Put(c.hdr[:])
	if _, err := sock.SendAll(c.conn, c.hdr[:]); err != nil {
		return err
	}
	_, err := sock.SendAll(c.conn, payload)
	return err
}

// Recv receives one transfer.
func (c *Client) Recv() (Header, []byte, error) {
	var h Header
	if _, err := sock.RecvAccumulate(c.conn, c.hdr[:]); err != nil {
		return h, nil, err
	}
	if err := h.UnmarshalBinary(c.hdr[:]); err != nil {
		return h, nil, err
	}
	payload := make([]byte, h.DataLen)
	if _, err := sock.RecvAccumulate(c.conn, payload); err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// SetDeadline bounds the next Send and Recv calls.
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
