// Package store persists discovery jobs, discovered devices, and
// credential profiles in Postgres via pgx. Every read and write made on
// behalf of a caller takes an owner and is scoped to it: a row that
// exists but belongs to a different owner is indistinguishable from a
// row that doesn't exist at all (apperr.NotFound in both cases), so
// callers can never probe for the existence of another tenant's data.
// The discovery worker's own operations (GetJobByID, MarkRunning,
// CompleteJob, FailJob, UpsertDevice) work by id and take no owner.
//
// Two Store instances are typically constructed against the same
// database from two differently sized pgxpool.Pool configurations: a
// small one for the request domain (status/results/cancel reads, which
// must stay responsive) and a larger one for the discovery domain (the
// worker pool doing the actual scanning and writing), so a backlog of
// slow discovery writes can't starve request-domain reads.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
	"github.com/fenwicklabs/discoveryd/internal/models"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store from a connection string and a pool-size ceiling.
// maxConns <= 0 leaves pgxpool's own default in place.
func New(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a new discovery job in the pending state.
func (s *Store) CreateJob(ctx context.Context, job *models.DiscoveryJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobPending
	job.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO discovery_jobs (
			id, name, status, target_range, credential_profile_id,
			summary, created_at, creator_id
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`, job.ID, job.Name, job.Status, job.TargetRange, job.CredentialProfileID,
		jsonOrEmptyObject(nil), job.CreatedAt, job.CreatorID)
	if err != nil {
		return fmt.Errorf("insert discovery job: %w", err)
	}

	log.Printf("[store] created job %s (range %s)", job.ID, job.TargetRange)
	return nil
}

// GetJob fetches a job by id, scoped to owner. Returns apperr.NotFound if
// no row matches — whether because the id doesn't exist or because it
// belongs to a different owner.
func (s *Store) GetJob(ctx context.Context, id, owner string) (*models.DiscoveryJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, status, target_range, credential_profile_id,
		       summary, created_at, started_at, completed_at, creator_id
		FROM discovery_jobs
		WHERE id = $1 AND creator_id = $2
	`, id, owner)

	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "discovery job not found")
		}
		return nil, fmt.Errorf("query discovery job: %w", err)
	}
	return job, nil
}

// GetJobByID fetches a job by id without an owner check. Used by the
// discovery worker pool, which operates on a jobID handed to it by the
// request domain and has no caller identity of its own to scope by.
func (s *Store) GetJobByID(ctx context.Context, id string) (*models.DiscoveryJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, status, target_range, credential_profile_id,
		       summary, created_at, started_at, completed_at, creator_id
		FROM discovery_jobs
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "discovery job not found")
		}
		return nil, fmt.Errorf("query discovery job: %w", err)
	}
	return job, nil
}

// MarkRunning transitions a job from pending to running. It is a no-op
// error (apperr.InvalidArgument) if the job isn't currently pending —
// callers use this to detect a duplicate start attempt.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`, models.JobRunning, now, id, models.JobPending)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.InvalidArgument, "job is not pending")
	}
	return nil
}

// CompleteJob writes a job's final summary and marks it completed, but
// only if the job is still running. This is the compare-and-set that
// prevents a pipeline's normal completion from clobbering a concurrent
// cancellation: if Cancel has already flipped the job to failed, this
// write affects zero rows and is silently ignored.
func (s *Store) CompleteJob(ctx context.Context, id string, summary models.DiscoverySummary) error {
	now := time.Now().UTC()
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs SET status = $1, summary = $2::jsonb, completed_at = $3
		WHERE id = $4 AND status = $5
	`, models.JobCompleted, payload, now, id, models.JobRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		log.Printf("[store] job %s no longer running, completion write skipped (cancelled?)", id)
	}
	return nil
}

// FailJob writes a failure summary and marks a job failed, conditional on
// it still being running — same compare-and-set rationale as CompleteJob.
func (s *Store) FailJob(ctx context.Context, id string, summary models.FailureSummary) error {
	now := time.Now().UTC()
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs SET status = $1, summary = $2::jsonb, completed_at = $3
		WHERE id = $4 AND status = $5
	`, models.JobFailed, payload, now, id, models.JobRunning)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		log.Printf("[store] job %s no longer running, failure write skipped", id)
	}
	return nil
}

// CancelJob marks a job failed with a cancellation summary, but only if
// it hasn't already reached a terminal state. Cancellation is advisory:
// this write is immediate, regardless of in-flight probes, which are
// left to drain under their own timeouts.
func (s *Store) CancelJob(ctx context.Context, id, owner string) error {
	summary := models.CancellationSummary{
		Cancelled:   true,
		CancelledAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs SET status = $1, summary = $2::jsonb, completed_at = $3
		WHERE id = $4 AND creator_id = $5 AND status IN ($6, $7)
	`, models.JobFailed, payload, now, id, owner, models.JobPending, models.JobRunning)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job doesn't exist/belong to owner, or it already
		// reached a terminal state. Distinguish by re-reading.
		if _, err := s.GetJob(ctx, id, owner); err != nil {
			return err
		}
		return apperr.New(apperr.InvalidArgument, "job already in a terminal state")
	}

	log.Printf("[store] job %s cancelled by %s", id, owner)
	return nil
}

// UpsertDevice inserts or refreshes a discovered device keyed by
// (ip_address, credential_profile_id) — a rescan of the same range
// updates the existing row rather than duplicating it. The row's
// discovery_job_id is overwritten to the scan that just touched it, so
// a device "moves" to whichever job most recently rediscovered it (see
// the results-scoping design note on models.Device).
func (s *Store) UpsertDevice(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	device.LastSeen = now
	device.UpdatedAt = now

	facts, err := json.Marshal(device.OSFacts)
	if err != nil {
		return fmt.Errorf("marshal os facts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (
			id, hostname, ip_address, device_type, os_facts,
			credential_profile_id, discovery_job_id, status, last_seen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ip_address, credential_profile_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			device_type = EXCLUDED.device_type,
			os_facts = EXCLUDED.os_facts,
			discovery_job_id = EXCLUDED.discovery_job_id,
			status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen,
			updated_at = EXCLUDED.updated_at
	`, device.ID, device.Hostname, device.IPAddress, device.DeviceType, facts,
		device.CredentialProfileID, device.DiscoveryJobID, device.Status, device.LastSeen, now, now)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// DevicesForJob returns every device whose most recent discovery was
// jobID, scoped to owner via the job itself. Results are scoped strictly
// by job id rather than by credential profile (the preferred resolution
// of the results-scoping design note): two jobs sharing a profile never
// see each other's devices.
func (s *Store) DevicesForJob(ctx context.Context, jobID, owner string) ([]models.Device, error) {
	if _, err := s.GetJob(ctx, jobID, owner); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, hostname, ip_address, device_type, os_facts,
		       credential_profile_id, discovery_job_id, status, last_seen, created_at, updated_at
		FROM devices
		WHERE discovery_job_id = $1
		ORDER BY ip_address
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]models.Device, 0)
	for rows.Next() {
		var d models.Device
		var facts []byte
		if err := rows.Scan(&d.ID, &d.Hostname, &d.IPAddress, &d.DeviceType, &facts,
			&d.CredentialProfileID, &d.DiscoveryJobID, &d.Status, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if len(facts) > 0 {
			if err := json.Unmarshal(facts, &d.OSFacts); err != nil {
				return nil, fmt.Errorf("unmarshal os facts: %w", err)
			}
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetCredentialProfile fetches a credential profile by id, scoped to
// owner. Secret and PrivateKey remain ciphertext; decryption happens in
// internal/secretstore, not here.
func (s *Store) GetCredentialProfile(ctx context.Context, id, owner string) (*models.CredentialProfile, error) {
	var p models.CredentialProfile
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, username, secret, private_key, port, owner_id
		FROM credential_profiles
		WHERE id = $1 AND owner_id = $2
	`, id, owner).Scan(&p.ID, &p.Name, &p.Username, &p.Secret, &p.PrivateKey, &p.Port, &p.OwnerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "credential profile not found")
		}
		return nil, fmt.Errorf("query credential profile: %w", err)
	}
	return &p, nil
}

func scanJob(row pgx.Row) (*models.DiscoveryJob, error) {
	var job models.DiscoveryJob
	var summary []byte
	if err := row.Scan(&job.ID, &job.Name, &job.Status, &job.TargetRange, &job.CredentialProfileID,
		&summary, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.CreatorID); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &job.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return &job, nil
}

func jsonOrEmptyObject(v interface{}) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
