// Package splice copies bytes in both directions between two duplex
// streams; when one direction reaches EOF it half-closes the write side
// that direction was feeding. It is the only place in the fabric that moves customer
// payload bytes, so it never inspects them.
package splice

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// bufferSize is the fixed per-direction copy buffer (SPEC_FULL.md §4.2).
const bufferSize = 16 * 1024

// DefaultIdleTimeout is the suggested idle timeout from SPEC_FULL.md §5.
// Zero disables it.
const DefaultIdleTimeout = 60 * time.Second

// HalfCloser is satisfied by any duplex stream that can shut down its
// write half independently of Close.
type HalfCloser interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// deadliner is implemented by connections that support idle timeouts
// (net.Conn and friends); streams that don't simply skip the refresh.
type deadliner interface {
	SetDeadline(time.Time) error
}

// Pipe splices a and b and returns once both directions have ended (EOF,
// error, idle timeout or ctx cancellation). When a direction ends, the
// write half of its destination is closed. Errors on either half are logged but do not cancel the
// other half until its own termination — a slow or broken peer on one
// side never prevents the other side's bytes from draining.
func Pipe(ctx context.Context, a, b HalfCloser, log *logrus.Entry, idleTimeout time.Duration) error {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	done := make(chan struct{}, 2)
	errs := make(chan error, 2)

	go func() {
		err := copyDirection(ctx, b, a, idleTimeout)
		if err != nil {
			log.WithError(err).Debug("splice: a->b direction ended")
		}
		_ = b.CloseWrite()
		errs <- err
		done <- struct{}{}
	}()

	go func() {
		err := copyDirection(ctx, a, b, idleTimeout)
		if err != nil {
			log.WithError(err).Debug("splice: b->a direction ended")
		}
		_ = a.CloseWrite()
		errs <- err
		done <- struct{}{}
	}()

	<-done
	<-done
	close(errs)

	// Report the first non-EOF error, if any; EOF is the normal
	// termination path for both directions and is not surfaced.
	for err := range errs {
		if err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func copyDirection(ctx context.Context, dst io.Writer, src io.Reader, idleTimeout time.Duration) error {
	buf := make([]byte, bufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if idleTimeout > 0 {
			if d, ok := src.(deadliner); ok {
				_ = d.SetDeadline(time.Now().Add(idleTimeout))
			}
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return err
			}
			return err
		}
	}
}
