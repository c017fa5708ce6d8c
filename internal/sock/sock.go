// Package sock implements the blocking send/receive primitives used to move
// payloads and control messages over a client byte stream.
package sock

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
)

var (
	// ErrMessageTooLong is returned when no delimiter arrives within the
	// caller's bound.
	ErrMessageTooLong = errors.New("control message exceeds its maximum length")

	// ErrNoProgress is returned when a send reports zero bytes without an error.
	ErrNoProgress = errors.New("socket made no progress")
)

// TransportError reports a failed socket operation and how many bytes it
// moved before failing.
type TransportError struct {
	Op  string
	N   int
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("etherlink: %s failed after %d bytes: %v", e.Op, e.N, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.ErrTransport) match every transport failure.
func (e *TransportError) Is(target error) bool {
	return target == errs.ErrTransport
}

// Closed reports whether the peer closed the stream.
func (e *TransportError) Closed() bool {
	return errors.Is(e.Err, io.EOF)
}

func recvErr(err error) error {
	if err == nil {
		return io.EOF
	}
	return err
}

func sendErr(err error) error {
	if err == nil {
		return ErrNoProgress
	}
	return err
}

// SendAll sends p, retrying partial sends until every byte is out. On
// failure it returns the count sent so far with a *TransportError.
func SendAll(s interfaces.Socket, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := s.Send(p[sent:])
		if n > 0 {
			sent += n
		}
		if sent == len(p) {
			break
		}
		if err != nil || n <= 0 {
			return sent, &TransportError{Op: "send_all", N: sent, Err: sendErr(err)}
		}
	}
	return sent, nil
}

// RecvAccumulate fills p completely. On failure p holds whatever arrived and
// the count is returned with a *TransportError; callers must not use the
// partial data. A zero-length read with no error counts as a closed peer.
func RecvAccumulate(s interfaces.Socket, p []byte) (int, error) {
	got := 0
	for got < len(p) {
		n, err := s.Recv(p[got:])
		if n > 0 {
			got += n
		}
		if got == len(p) {
			break
		}
		if err != nil || n <= 0 {
			return got, &TransportError{Op: "recv_accumulate", N: got, Err: recvErr(err)}
		}
	}
	return got, nil
}

// RecvUntilDelimiter reads into p until a zero byte arrives and returns the
// number of bytes consumed, delimiter included. It reads one byte per call so
// nothing after the delimiter is taken from the stream. It fails with
// ErrMessageTooLong after len(p) bytes without a delimiter.
func RecvUntilDelimiter(s interfaces.Socket, p []byte) (int, error) {
	got := 0
	for got < len(p) {
		n, err := s.Recv(p[got : got+1])
		if n <= 0 {
			return got, &TransportError{Op: "recv_until_null", N: got, Err: recvErr(err)}
		}
		got++
		if p[got-1] == 0 {
			return got, nil
		}
	}
	return got, &TransportError{Op: "recv_until_null", N: got, Err: ErrMessageTooLong}
}

// CString returns the text before the first zero byte of a message read by
// RecvUntilDelimiter.
func CString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		return string(p[:i])
	}
	return string(p)
}
