package bus

import (
	"context"
	"errors"
	"io"
	"net"

	lberrors "github.com/yejue/liteboty/errors"
)

// ErrKeyNotFound is returned by Conn.Get for absent keys.
var ErrKeyNotFound = lberrors.ErrKeyNotFound

// ErrClosed is returned by operations on a closed connection or subscriber.
var ErrClosed = errors.New("bus: closed")

// ConnectionLost marks err as a transport failure that should drive
// reconnection. The result wraps errors.ErrConnectionLost.
func ConnectionLost(err error, component, method string) error {
	if err == nil {
		return nil
	}
	return lberrors.WrapTransient(errors.Join(lberrors.ErrConnectionLost, err), component, method, "bus io")
}

// IsConnectionError reports whether err indicates a broken transport.
// Context cancellation is never a connection error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, lberrors.ErrConnectionLost) || errors.Is(err, ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
