package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/model"
)

// Registry is the pgx-backed ReplicaRegistry for one library, satisfying
// internal/registry.Registry by structural typing.
type Registry struct {
	pool    *pgxpool.Pool
	library string
}

func NewRegistry(pool *pgxpool.Pool, library string) *Registry {
	return &Registry{pool: pool, library: library}
}

func (r *Registry) GetOrCreate(ctx context.Context, replicaID string, token model.TokenInfo, now time.Time, truancy time.Duration) (model.GetOrCreateStatus, model.ReplicaInfo, error) {
	existing, err := r.Get(ctx, replicaID)
	if err != nil {
		return "", model.ReplicaInfo{}, err
	}
	if existing != nil {
		if existing.UserID != token.UserID {
			return "", model.ReplicaInfo{}, model.ErrReplicaOwnership
		}
		if err := r.UpdateLastSeen(ctx, replicaID, now); err != nil {
			return "", model.ReplicaInfo{}, err
		}
		status := model.StatusExisting
		if existing.Truant(now, truancy) {
			status = model.StatusTruant
		}
		existing.LastSeen = now
		return status, *existing, nil
	}

	info := model.ReplicaInfo{
		ReplicaID: replicaID,
		UserID:    token.UserID,
		Type:      token.Type,
		LastSeen:  now,
		CreatedAt: now,
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO replicas (library, replica_id, user_id, type, acked_timestamp, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, '', $5, $5)`,
		r.library, replicaID, token.UserID, string(token.Type), now)
	if err != nil {
		return "", model.ReplicaInfo{}, err
	}
	return model.StatusNew, info, nil
}

func (r *Registry) UpdateAcknowledged(ctx context.Context, replicaID string, ts model.HLC) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE replicas SET acked_timestamp = GREATEST(acked_timestamp, $3)
		 WHERE library = $1 AND replica_id = $2`,
		r.library, replicaID, string(ts))
	return err
}

func (r *Registry) UpdateLastSeen(ctx context.Context, replicaID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE replicas SET last_seen = $3 WHERE library = $1 AND replica_id = $2`,
		r.library, replicaID, now)
	return err
}

func (r *Registry) Delete(ctx context.Context, replicaID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM replicas WHERE library = $1 AND replica_id = $2`, r.library, replicaID)
	return err
}

func (r *Registry) Get(ctx context.Context, replicaID string) (*model.ReplicaInfo, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT replica_id, user_id, type, acked_timestamp, last_seen, created_at
		 FROM replicas WHERE library = $1 AND replica_id = $2`,
		r.library, replicaID)
	info, err := scanReplica(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetGlobalAck returns the minimum AckedTimestamp across non-truant,
// non-read-only replicas (plus currently-connected ones via
// activeOverride), or (_, false) if any qualifying replica has never
// acknowledged. This mirrors registry.Memory's logic but as a single
// aggregate query would need GREATEST(acked_timestamp, '') semantics the
// string type can't express cleanly in SQL, so it's done in Go against the
// filtered row set instead.
func (r *Registry) GetGlobalAck(ctx context.Context, now time.Time, truancy time.Duration, activeOverride map[string]bool) (model.HLC, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT replica_id, user_id, type, acked_timestamp, last_seen, created_at FROM replicas WHERE library = $1`,
		r.library)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var min model.HLC
	found := false
	for rows.Next() {
		info, err := scanReplica(rows)
		if err != nil {
			return "", false, err
		}
		if info.Type.ReadOnly() {
			continue
		}
		active := activeOverride[info.ReplicaID]
		if !active && info.Truant(now, truancy) {
			continue
		}
		if !info.HasAcked() {
			return "", false, nil
		}
		if !found || info.AckedTimestamp.Less(min) {
			min = info.AckedTimestamp
			found = true
		}
	}
	return min, found, rows.Err()
}

func scanReplica(row rowScanner) (model.ReplicaInfo, error) {
	var id, userID, typ, acked string
	var lastSeen, createdAt time.Time
	if err := row.Scan(&id, &userID, &typ, &acked, &lastSeen, &createdAt); err != nil {
		return model.ReplicaInfo{}, err
	}
	return model.ReplicaInfo{
		ReplicaID:      id,
		UserID:         userID,
		Type:           model.ReplicaType(typ),
		AckedTimestamp: model.HLC(acked),
		LastSeen:       lastSeen,
		CreatedAt:      createdAt,
	}, nil
}
