// Package acceptor owns the listening socket, assigns session ids, spawns
// session actors, and orchestrates graceful shutdown across the control and
// routing actors.
package acceptor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stammer/internal/model"
	"stammer/internal/routing"
	"stammer/internal/session"
	"stammer/internal/wire"
)

// Acceptor accepts connections on a listener and runs the routing core
// until its context is canceled.
type Acceptor struct {
	listener net.Listener
	timeout  time.Duration
	log      *slog.Logger

	nextID atomic.Uint32

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[model.SessionID]*wire.Conn
}

// New wraps an already-bound listener. timeout is the per-session keepalive
// idle timeout.
func New(listener net.Listener, timeout time.Duration, log *slog.Logger) *Acceptor {
	return &Acceptor{
		listener: listener,
		timeout:  timeout,
		log:      log,
		conns:    make(map[model.SessionID]*wire.Conn),
	}
}

// Run accepts connections and drives the control/routing actors until ctx
// is canceled, then performs the shutdown sequence: close the listener,
// stop control (which drains and stops routing in turn), and await every
// spawned session.
func (a *Acceptor) Run(ctx context.Context) error {
	router := routing.NewRouter(a.log)
	control := routing.NewControl(router.ControlInbox(), a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		control.Run()
		return nil
	})
	g.Go(func() error {
		router.Run()
		return nil
	})
	g.Go(func() error {
		return a.acceptLoop(gctx, control, router)
	})

	<-gctx.Done()
	a.log.Info("acceptor: shutting down")
	_ = a.listener.Close()
	control.Stop()
	// Session actors block on a socket read with no separate cancellation
	// signal, so closing each live connection is what unblocks them to
	// observe shutdown and return, mirroring the channel-closure signal
	// the actor model elsewhere uses.
	a.closeAllConns()
	a.wg.Wait()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Acceptor) acceptLoop(ctx context.Context, control *routing.Control, router *routing.Router) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			a.log.Info("acceptor: accept error, initiating shutdown", "err", err)
			return err
		}
		id := model.SessionID(a.nextID.Add(1))
		a.spawn(id, conn, control, router)
	}
}

func (a *Acceptor) spawn(id model.SessionID, conn net.Conn, control *routing.Control, router *routing.Router) {
	wc := wire.New(conn)
	sess := session.New(id, wc, control, router, a.timeout, a.log)

	a.mu.Lock()
	a.conns[id] = wc
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.conns, id)
			a.mu.Unlock()
		}()
		sess.Run()
	}()
}

func (a *Acceptor) closeAllConns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.conns {
		_ = c.Close()
	}
}
