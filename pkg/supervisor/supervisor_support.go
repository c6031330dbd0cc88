package supervisor

// Supporting infrastructure to run common payloads under supervision.

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer creates a Runnable that serves HTTP requests on lis as long as
// it's not canceled. If graceful is set to true, in-flight requests are given
// a short drain window on shutdown; otherwise the server is closed violently.
func HTTPServer(srv *http.Server, lis net.Listener, graceful bool) Runnable {
	return func(ctx context.Context) error {
		Signal(ctx, SignalHealthy)
		errC := make(chan error, 1)
		go func() {
			errC <- srv.Serve(lis)
		}()
		select {
		case <-ctx.Done():
			if graceful {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			} else {
				_ = srv.Close()
			}
			return ctx.Err()
		case err := <-errC:
			if errors.Is(err, http.ErrServerClosed) {
				return ctx.Err()
			}
			return err
		}
	}
}
