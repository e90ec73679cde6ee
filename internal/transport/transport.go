// Package transport decouples the request domain (the HTTP API) from
// the discovery domain (the worker pool that runs scan pipelines) behind
// a single Transport interface, with two implementations:
//
//   - ChannelTransport routes every call through one of four buffered Go
//     channels (start/status/results/cancel), each drained by a fixed
//     pool of discovery workers. A request carries its own reply channel
//     — a one-shot completion handle the caller blocks on with a timeout.
//     Worker pickup falls out of Go's select-statement fairness across
//     the pool: no separate load balancer is needed.
//   - DirectTransport calls the engine in-process, synchronously, for
//     tests and single-process deployments where request and discovery
//     domains already share a goroutine space.
//
// Both satisfy the same interface so callers (internal/api) never know
// which one is wired in.
package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
	"github.com/fenwicklabs/discoveryd/internal/engine"
	"github.com/fenwicklabs/discoveryd/internal/models"
)

// DefaultReplyTimeout bounds how long a caller waits for a worker's reply
// to a request before the transport gives up and reports TransportFailure.
const DefaultReplyTimeout = 10 * time.Second

// Transport is the control-plane surface internal/api depends on.
type Transport interface {
	Start(ctx context.Context, req engine.StartRequest) (string, error)
	Status(ctx context.Context, jobID, owner string) (*models.DiscoveryJob, error)
	Results(ctx context.Context, jobID, owner string) ([]models.Device, error)
	Cancel(ctx context.Context, jobID, owner string) error
}

// DirectTransport calls the engine in-process. Start still returns as
// soon as the job row exists; the pipeline itself runs on a detached
// goroutine, matching ChannelTransport's asynchronous-completion
// contract without needing a worker pool.
type DirectTransport struct {
	engine *engine.Engine
}

// NewDirectTransport wraps eng for in-process use.
func NewDirectTransport(eng *engine.Engine) *DirectTransport {
	return &DirectTransport{engine: eng}
}

func (d *DirectTransport) Start(ctx context.Context, req engine.StartRequest) (string, error) {
	jobID, err := d.engine.StartDiscovery(ctx, req)
	if err != nil {
		return "", err
	}
	go d.engine.RunDiscovery(context.Background(), jobID)
	return jobID, nil
}

func (d *DirectTransport) Status(ctx context.Context, jobID, owner string) (*models.DiscoveryJob, error) {
	return d.engine.Status(ctx, jobID, owner)
}

func (d *DirectTransport) Results(ctx context.Context, jobID, owner string) ([]models.Device, error) {
	return d.engine.Results(ctx, jobID, owner)
}

func (d *DirectTransport) Cancel(ctx context.Context, jobID, owner string) error {
	return d.engine.Cancel(ctx, jobID, owner)
}

// request/reply envelopes for the channel transport. Each carries a
// one-shot reply channel — the completion handle the caller blocks on.

type startRequest struct {
	req   engine.StartRequest
	reply chan startReply
}
type startReply struct {
	jobID string
	err   error
}

type statusRequest struct {
	jobID, owner string
	reply        chan statusReply
}
type statusReply struct {
	job *models.DiscoveryJob
	err error
}

type resultsRequest struct {
	jobID, owner string
	reply        chan resultsReply
}
type resultsReply struct {
	devices []models.Device
	err     error
}

type cancelRequest struct {
	jobID, owner string
	reply        chan error
}

// ChannelTransport fans every call out over four logical channels to a
// fixed pool of workers, each of which blocks on the engine call for as
// long as it takes and writes exactly one reply.
//
// Start and the pipeline it triggers run against discoveryEngine (backed
// by the larger, write-heavy connection pool); Status/Results/Cancel run
// against requestEngine (backed by the smaller pool reserved for the
// request domain), so a backlog of in-flight scans can't starve reads.
type ChannelTransport struct {
	discoveryEngine *engine.Engine
	requestEngine   *engine.Engine

	startCh   chan startRequest
	statusCh  chan statusRequest
	resultsCh chan resultsRequest
	cancelCh  chan cancelRequest

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewChannelTransport builds a ChannelTransport and launches
// instances*poolSize workers, each range-selecting over all four
// channels. Channel capacity matches the worker count so a burst of
// requests queues instead of blocking the request domain outright.
func NewChannelTransport(discoveryEngine, requestEngine *engine.Engine, instances, poolSize int) *ChannelTransport {
	workers := instances * poolSize
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ct := &ChannelTransport{
		discoveryEngine: discoveryEngine,
		requestEngine:   requestEngine,
		startCh:         make(chan startRequest, workers),
		statusCh:        make(chan statusRequest, workers),
		resultsCh:       make(chan resultsRequest, workers),
		cancelCh:        make(chan cancelRequest, workers),
		cancel:          cancel,
	}

	for i := 0; i < workers; i++ {
		ct.wg.Add(1)
		go ct.runWorker(ctx, i)
	}

	log.Printf("[transport] started %d discovery workers (%d instances x %d pool size)", workers, instances, poolSize)
	return ct
}

// Shutdown stops accepting new work and waits for in-flight workers to
// drain. In-flight SSH probes are not interrupted — only advisory
// cancellation is supported, per spec.
func (ct *ChannelTransport) Shutdown() {
	ct.cancel()
	ct.wg.Wait()
}

func (ct *ChannelTransport) runWorker(ctx context.Context, id int) {
	defer ct.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-ct.startCh:
			jobID, err := ct.discoveryEngine.StartDiscovery(ctx, r.req)
			r.reply <- startReply{jobID: jobID, err: err}
			if err == nil {
				// The worker that accepted the start request also runs
				// the pipeline itself, end to end, blocking for the
				// duration of the scan.
				ct.discoveryEngine.RunDiscovery(context.WithoutCancel(ctx), jobID)
			}
		case r := <-ct.statusCh:
			job, err := ct.requestEngine.Status(ctx, r.jobID, r.owner)
			r.reply <- statusReply{job: job, err: err}
		case r := <-ct.resultsCh:
			devices, err := ct.requestEngine.Results(ctx, r.jobID, r.owner)
			r.reply <- resultsReply{devices: devices, err: err}
		case r := <-ct.cancelCh:
			r.reply <- ct.requestEngine.Cancel(ctx, r.jobID, r.owner)
		}
	}
}

func (ct *ChannelTransport) Start(ctx context.Context, req engine.StartRequest) (string, error) {
	reply := make(chan startReply, 1)
	select {
	case ct.startCh <- startRequest{req: req, reply: reply}:
	default:
		return "", apperr.New(apperr.TransportFailure, "discovery worker pool is full")
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-reply:
		return r.jobID, r.err
	case <-time.After(DefaultReplyTimeout):
		return "", apperr.New(apperr.TransportFailure, "timed out waiting for a discovery worker")
	}
}

func (ct *ChannelTransport) Status(ctx context.Context, jobID, owner string) (*models.DiscoveryJob, error) {
	reply := make(chan statusReply, 1)
	select {
	case ct.statusCh <- statusRequest{jobID: jobID, owner: owner, reply: reply}:
	default:
		return nil, apperr.New(apperr.TransportFailure, "discovery worker pool is full")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		return r.job, r.err
	case <-time.After(DefaultReplyTimeout):
		return nil, apperr.New(apperr.TransportFailure, "timed out waiting for a discovery worker")
	}
}

func (ct *ChannelTransport) Results(ctx context.Context, jobID, owner string) ([]models.Device, error) {
	reply := make(chan resultsReply, 1)
	select {
	case ct.resultsCh <- resultsRequest{jobID: jobID, owner: owner, reply: reply}:
	default:
		return nil, apperr.New(apperr.TransportFailure, "discovery worker pool is full")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		return r.devices, r.err
	case <-time.After(DefaultReplyTimeout):
		return nil, apperr.New(apperr.TransportFailure, "timed out waiting for a discovery worker")
	}
}

func (ct *ChannelTransport) Cancel(ctx context.Context, jobID, owner string) error {
	reply := make(chan error, 1)
	select {
	case ct.cancelCh <- cancelRequest{jobID: jobID, owner: owner, reply: reply}:
	default:
		return apperr.New(apperr.TransportFailure, "discovery worker pool is full")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	case <-time.After(DefaultReplyTimeout):
		return apperr.New(apperr.TransportFailure, "timed out waiting for a discovery worker")
	}
}

var _ Transport = (*DirectTransport)(nil)
var _ Transport = (*ChannelTransport)(nil)
