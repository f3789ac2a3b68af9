package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// Dispatcher runs remote operations with at most one in flight per remote
// path. Operations on different paths run concurrently.
type Dispatcher struct {
	ctx    context.Context
	store  ports.RemoteStore
	sup    *supervisor
	logger log.Logger

	mu       sync.Mutex
	queues   map[string][]domain.RemoteOp
	stopping bool

	done   atomic.Int64
	failed atomic.Int64
}

// newDispatcher creates a dispatcher whose operations run under ctx.
func newDispatcher(ctx context.Context, store ports.RemoteStore, sup *supervisor, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:    ctx,
		store:  store,
		sup:    sup,
		logger: logger,
		queues: make(map[string][]domain.RemoteOp),
	}
}

// Submit queues op behind any operation already running for its path.
func (d *Dispatcher) Submit(op domain.RemoteOp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		return
	}

	key := op.RemotePath
	if q, busy := d.queues[key]; busy {
		d.queues[key] = append(q, op)
		return
	}
	d.queues[key] = []domain.RemoteOp{op}
	d.sup.Go(func() { d.drain(key) })
}

// drain executes queued operations for key in order until the queue is empty.
func (d *Dispatcher) drain(key string) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 || d.stopping {
			if n := len(q); n > 0 {
				d.logger.Debug("dropping queued operations", log.Path(key), log.Int("count", n))
			}
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		op := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.execute(op)
	}
}

func (d *Dispatcher) execute(op domain.RemoteOp) {
	if err := d.apply(op); err != nil {
		d.failed.Add(1)
		d.logger.Error("remote operation failed",
			log.Cartridge(op.Cartridge),
			log.Op(op.Verb.String()),
			log.Path(op.RemotePath),
			log.Err(err),
		)
		return
	}
	d.done.Add(1)
	d.logger.Info("synced",
		log.Cartridge(op.Cartridge),
		log.Op(op.Verb.String()),
		log.Path(op.RemotePath),
	)
}

func (d *Dispatcher) apply(op domain.RemoteOp) error {
	switch op.Verb {
	case domain.VerbPut:
		return d.store.PutFile(d.ctx, op.LocalPath, op.RemotePath)
	case domain.VerbDelete:
		return d.store.DeletePath(d.ctx, op.RemotePath)
	case domain.VerbMkcol:
		return d.store.MakeDirectory(d.ctx, op.RemotePath)
	default:
		return fmt.Errorf("unsupported verb %v", op.Verb)
	}
}

// Stop rejects new operations. Operations already running finish; queued
// ones are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
}

// Stats returns the number of succeeded and failed operations.
func (d *Dispatcher) Stats() (done, failed int64) {
	return d.done.Load(), d.failed.Load()
}
