// Package engine implements the discovery pipeline: CIDR expansion,
// liveness and TCP-reachability probing, authenticated SSH fact
// extraction, and device persistence, all driven by a job's lifecycle in
// internal/store.
//
// Engine methods are safe to call concurrently; RunDiscovery is the long
// blocking call a discovery worker makes for the lifetime of one job,
// while StartDiscovery/Status/Results/Cancel are short store operations
// meant to return quickly regardless of how many jobs are mid-flight.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
	"github.com/fenwicklabs/discoveryd/internal/models"
	"github.com/fenwicklabs/discoveryd/internal/netscan"
	"github.com/fenwicklabs/discoveryd/internal/secretstore"
	"github.com/fenwicklabs/discoveryd/internal/sshprobe"
	"github.com/fenwicklabs/discoveryd/internal/store"
)

// StageConcurrency bounds how many hosts are probed at once within a
// single stage of a single job's pipeline.
const StageConcurrency = 64

// StartRequest is the input to StartDiscovery.
type StartRequest struct {
	Name                string
	TargetRange         string
	CredentialProfileID string
	CreatorID           string
	// AllowWideRange opts out of the netscan.MinPrefixLength safety cap.
	// It is not part of the public HTTP request body — only trusted
	// internal callers can set it — so a caller can't blow the scan
	// budget by passing an arbitrary field.
	AllowWideRange bool
}

// Engine orchestrates the discovery pipeline against a store and a
// secretstore used to decrypt credential profiles.
type Engine struct {
	store   *store.Store
	secrets *secretstore.Store
}

// New builds an Engine.
func New(s *store.Store, secrets *secretstore.Store) *Engine {
	return &Engine{store: s, secrets: secrets}
}

// StartDiscovery validates the request, creates a pending job, and
// returns its id. It does not itself run the pipeline — the caller
// (internal/transport) is responsible for scheduling a call to
// RunDiscovery on a worker.
func (e *Engine) StartDiscovery(ctx context.Context, req StartRequest) (string, error) {
	if req.TargetRange == "" {
		return "", apperr.New(apperr.InvalidArgument, "targetRange is required")
	}
	if req.CredentialProfileID == "" {
		return "", apperr.New(apperr.InvalidArgument, "credentialProfileId is required")
	}
	if req.CreatorID == "" {
		return "", apperr.New(apperr.InvalidArgument, "creatorId is required")
	}
	bits, err := netscan.PrefixBits(req.TargetRange)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, "invalid targetRange", err)
	}
	if bits < netscan.MinPrefixLength && !req.AllowWideRange {
		return "", apperr.New(apperr.InvalidArgument,
			fmt.Sprintf("targetRange is wider than /%d; pass an explicit override to scan it", netscan.MinPrefixLength))
	}
	if _, err := netscan.ExpandCIDR(req.TargetRange); err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, "invalid targetRange", err)
	}

	if _, err := e.store.GetCredentialProfile(ctx, req.CredentialProfileID, req.CreatorID); err != nil {
		return "", err
	}

	job := &models.DiscoveryJob{
		Name:                req.Name,
		TargetRange:         req.TargetRange,
		CredentialProfileID: req.CredentialProfileID,
		CreatorID:           req.CreatorID,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	return job.ID, nil
}

// Status returns a job's current lifecycle state, scoped to owner.
func (e *Engine) Status(ctx context.Context, jobID, owner string) (*models.DiscoveryJob, error) {
	return e.store.GetJob(ctx, jobID, owner)
}

// Results returns the devices discovered by a job, scoped to owner.
func (e *Engine) Results(ctx context.Context, jobID, owner string) ([]models.Device, error) {
	return e.store.DevicesForJob(ctx, jobID, owner)
}

// Cancel marks a job cancelled. Advisory only: RunDiscovery, if already
// in flight for this job, keeps draining in-flight probes and its final
// completion write will be silently dropped by the store's
// compare-and-set (see store.CompleteJob).
func (e *Engine) Cancel(ctx context.Context, jobID, owner string) error {
	return e.store.CancelJob(ctx, jobID, owner)
}

// RunDiscovery executes the full staged pipeline for an already-created
// job: liveness, TCP reachability, SSH fact extraction, and persistence.
// It blocks for the lifetime of the scan. Any per-host failure is logged
// and swallowed; only an orchestration-level failure (bad credential
// profile, CIDR expansion failure) fails the job. If the job row cannot
// be loaded or is no longer pending, the run is abandoned with a log
// line and the row is left as it is.
func (e *Engine) RunDiscovery(ctx context.Context, jobID string) {
	job, err := e.loadJobForRun(ctx, jobID)
	if err != nil {
		log.Printf("[engine] job %s: cannot start: %v", jobID, err)
		return
	}

	if err := e.store.MarkRunning(ctx, jobID); err != nil {
		log.Printf("[engine] job %s: mark running failed: %v", jobID, err)
		return
	}

	summary, err := e.runPipeline(ctx, job)
	if err != nil {
		log.Printf("[engine] job %s: pipeline failed: %v", jobID, err)
		e.store.FailJob(ctx, jobID, models.FailureSummary{
			Error:    err.Error(),
			FailedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	e.store.CompleteJob(ctx, jobID, *summary)
	log.Printf("[engine] job %s: completed, %d devices discovered", jobID, summary.DevicesDiscovered)
}

// loadJobForRun fetches the job by id without an owner check — workers
// run on behalf of the system, not a particular caller.
func (e *Engine) loadJobForRun(ctx context.Context, jobID string) (*models.DiscoveryJob, error) {
	// A job was just created by StartDiscovery under its own owner; the
	// worker doesn't know that owner, so it looks the job up by id alone
	// via the store's unscoped accessor; the row's own creator is then
	// used for the owner-scoped credential lookup. In practice the transport passes jobID straight from StartDiscovery,
	// so this is always a fresh, existing row.
	return e.store.GetJobByID(ctx, jobID)
}

func (e *Engine) runPipeline(ctx context.Context, job *models.DiscoveryJob) (*models.DiscoverySummary, error) {
	profile, err := e.store.GetCredentialProfile(ctx, job.CredentialProfileID, job.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("load credential profile: %w", err)
	}

	cred, err := e.decryptCredential(profile)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential profile: %w", err)
	}

	addrs, err := netscan.ExpandCIDR(job.TargetRange)
	if err != nil {
		return nil, fmt.Errorf("expand target range: %w", err)
	}

	liveness := netscan.ProbeLiveness(ctx, addrs, netscan.DefaultLivenessTimeout, StageConcurrency)
	var liveAddrs []string
	for _, r := range liveness {
		if r.Alive {
			liveAddrs = append(liveAddrs, r.IPAddress)
		}
	}

	portResults := netscan.ProbePorts(ctx, liveAddrs, cred.Port, netscan.DefaultPortTimeout, StageConcurrency)
	var probeAddrs []string
	for _, r := range portResults {
		if r.Open {
			probeAddrs = append(probeAddrs, r.IPAddress)
		}
	}

	discovered := e.probeAndPersist(ctx, probeAddrs, cred, profile.ID, job.ID)

	return &models.DiscoverySummary{
		TotalIPsScanned:   len(addrs),
		DevicesDiscovered: len(discovered),
		Devices:           discovered,
	}, nil
}

// probeAndPersist runs the SSH fact-extraction stage across probeAddrs
// with bounded concurrency, persisting a device row for each host that
// answers. Per-host SSH failures are logged and skipped, not propagated.
func (e *Engine) probeAndPersist(ctx context.Context, probeAddrs []string, cred sshprobe.Credential, profileID, jobID string) []string {
	if len(probeAddrs) == 0 {
		return nil
	}

	var (
		group      errgroup.Group
		mu         sync.Mutex
		discovered []string
	)
	group.SetLimit(StageConcurrency)

	for _, addr := range probeAddrs {
		addr := addr
		group.Go(func() error {
			facts, err := sshprobe.Probe(ctx, addr, cred)
			if err != nil {
				log.Printf("[engine] ssh probe failed for %s: %v", addr, err)
				return nil
			}

			device := &models.Device{
				Hostname:            facts.Hostname,
				IPAddress:           addr,
				DeviceType:          facts.DeviceType,
				OSFacts:             facts.OSFacts,
				CredentialProfileID: profileID,
				DiscoveryJobID:      jobID,
				Status:              models.DeviceOnline,
			}
			if err := e.store.UpsertDevice(ctx, device); err != nil {
				log.Printf("[engine] persist device %s failed: %v", addr, err)
				return nil
			}

			mu.Lock()
			discovered = append(discovered, addr)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	return discovered
}

func (e *Engine) decryptCredential(profile *models.CredentialProfile) (sshprobe.Credential, error) {
	cred := sshprobe.Credential{Username: profile.Username, Port: profile.Port}

	if profile.PrivateKey != nil && *profile.PrivateKey != "" {
		key, err := e.secrets.Decrypt(*profile.PrivateKey)
		if err != nil {
			return cred, fmt.Errorf("decrypt private key: %w", err)
		}
		cred.PrivateKey = key
		return cred, nil
	}

	secret, err := e.secrets.Decrypt(profile.Secret)
	if err != nil {
		return cred, fmt.Errorf("decrypt secret: %w", err)
	}
	cred.Password = string(secret)
	return cred, nil
}
