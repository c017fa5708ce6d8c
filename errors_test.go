package etherlink

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

func TestSentinelErrors(t *testing.T) {
	structured := errs.NewChannel("get_buffer", "h2t", errs.CodeNoSpace, "no descriptor slot free")

	if !errors.Is(structured, ErrNoSpace) {
		t.Error("Structured error should match sentinel via errors.Is")
	}
	if !IsCode(structured, ErrCodeNoSpace) {
		t.Error("IsCode should return true for matching code")
	}
	if !IsBackpressure(fmt.Errorf("reserve: %w", structured)) {
		t.Error("NoSpace should be backpressure through wrapping")
	}
	if IsBackpressure(ErrInconsistentState) {
		t.Error("InconsistentState is not backpressure")
	}

	if ErrConfig.Error() != "etherlink: config error" {
		t.Errorf("Expected sentinel error message, got %q", ErrConfig.Error())
	}
}

func TestTransportErrorAlias(t *testing.T) {
	var err error = &TransportError{Op: "recv_accumulate", N: 3, Err: io.EOF}

	if !errors.Is(err, ErrTransport) {
		t.Error("TransportError should match ErrTransport")
	}
	var te *TransportError
	if !errors.As(err, &te) || !te.Closed() {
		t.Error("EOF transport error should report a closed peer")
	}
	if IsWouldBlock(err) {
		t.Error("EOF is not a would-block condition")
	}
}
