package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

func canonicalEqual(a, b models.Unit) (bool, error) {
	da, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	db, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return string(da) == string(db), nil
}

// PutUnit implements store.Storage. One transaction: insert the unit row
// and its forward reference edges, or detect a conflicting/duplicate id.
func (s *Store) PutUnit(ctx context.Context, u models.Unit) (models.Unit, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Unit{}, false, fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingBody []byte
	err = tx.QueryRow(ctx, `SELECT body FROM units WHERE id = $1`, u.ID).Scan(&existingBody)
	switch {
	case err == nil:
		var existing models.Unit
		if err := json.Unmarshal(existingBody, &existing); err != nil {
			return models.Unit{}, false, fmt.Errorf("pgstore: decode existing unit: %w", err)
		}
		eq, err := canonicalEqual(existing, u)
		if err != nil {
			return models.Unit{}, false, err
		}
		if eq {
			return existing, false, nil
		}
		return models.Unit{}, false, store.ErrConflict
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return models.Unit{}, false, fmt.Errorf("pgstore: lookup existing unit: %w", err)
	}

	body, err := json.Marshal(u)
	if err != nil {
		return models.Unit{}, false, fmt.Errorf("pgstore: encode unit: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO units (id, unit_type, content, created_at, author, visibility, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, string(u.Type), u.Content, u.CreatedAt, u.Author, string(u.EffectiveVisibility()), body,
	)
	if err != nil {
		return models.Unit{}, false, fmt.Errorf("pgstore: insert unit: %w", err)
	}
	for _, ref := range u.References {
		_, err := tx.Exec(ctx, `
			INSERT INTO unit_references (referencing_id, referenced_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, u.ID, ref.ID)
		if err != nil {
			return models.Unit{}, false, fmt.Errorf("pgstore: insert reference edge: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Unit{}, false, fmt.Errorf("pgstore: commit: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetUnit(ctx context.Context, id string) (models.Unit, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM units WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Unit{}, store.ErrNotFound
	}
	if err != nil {
		return models.Unit{}, fmt.Errorf("pgstore: get unit: %w", err)
	}
	var u models.Unit
	if err := json.Unmarshal(body, &u); err != nil {
		return models.Unit{}, fmt.Errorf("pgstore: decode unit: %w", err)
	}
	return u, nil
}

func (s *Store) ListUnits(ctx context.Context, f store.ListFilter) (store.Page, error) {
	limit := store.ClampLimit(f.Limit, 50, 500)

	query := `SELECT body FROM units WHERE TRUE`
	args := []any{}
	argN := 0
	next := func(v any) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		query += fmt.Sprintf(" AND unit_type = ANY(%s)", next(kinds))
	}
	if f.Author != "" {
		query += fmt.Sprintf(" AND author = %s", next(f.Author))
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= %s", next(f.Since))
	}
	if f.After != "" {
		query += fmt.Sprintf(" AND id > %s", next(f.After))
	}
	if len(f.Visibility) > 0 {
		vis := make([]string, len(f.Visibility))
		for i, v := range f.Visibility {
			vis[i] = string(v)
		}
		query += fmt.Sprintf(" AND visibility = ANY(%s)", next(vis))
	}
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT %s", next(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.Page{}, fmt.Errorf("pgstore: list units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return store.Page{}, fmt.Errorf("pgstore: scan unit: %w", err)
		}
		var u models.Unit
		if err := json.Unmarshal(body, &u); err != nil {
			return store.Page{}, fmt.Errorf("pgstore: decode unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, err
	}

	hasMore := len(units) > limit
	if hasMore {
		units = units[:limit]
	}
	page := store.Page{Units: units, HasMore: hasMore}
	if len(units) > 0 {
		page.Cursor = units[len(units)-1].ID
	}
	return page, nil
}

func (s *Store) Incoming(ctx context.Context, id string) ([]models.Unit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.body FROM units u
		JOIN unit_references r ON r.referencing_id = u.id
		WHERE r.referenced_id = $1
		ORDER BY u.id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: incoming: %w", err)
	}
	defer rows.Close()
	var out []models.Unit
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var u models.Unit
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUnitCredibility(ctx context.Context, unitID string, credibility float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE units SET credibility = $1 WHERE id = $2`, credibility, unitID)
	return err
}

func (s *Store) GetUnitCredibility(ctx context.Context, unitID string) (float64, bool, error) {
	var c *float64
	err := s.pool.QueryRow(ctx, `SELECT credibility FROM units WHERE id = $1`, unitID).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if c == nil {
		return 0, false, nil
	}
	return *c, true, nil
}

func (s *Store) UpsertAgent(ctx context.Context, p models.AgentProfile) (models.AgentProfile, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (did, inbox_url, display_name, public_key_multibase, status, contribution_count, reputation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (did) DO UPDATE SET
			inbox_url = EXCLUDED.inbox_url,
			display_name = EXCLUDED.display_name,
			public_key_multibase = EXCLUDED.public_key_multibase,
			status = EXCLUDED.status
		RETURNING did, inbox_url, display_name, public_key_multibase, status, contribution_count, reputation`,
		p.DID, p.InboxURL, p.DisplayName, p.PublicKeyMultibase, string(orDefaultStatus(p.Status)), p.ContributionCount, p.Reputation,
	)
	return scanAgent(row)
}

func orDefaultStatus(s models.AgentStatus) models.AgentStatus {
	if s == "" {
		return models.AgentStatusFull
	}
	return s
}

func scanAgent(row pgx.Row) (models.AgentProfile, error) {
	var a models.AgentProfile
	var status string
	if err := row.Scan(&a.DID, &a.InboxURL, &a.DisplayName, &a.PublicKeyMultibase, &status, &a.ContributionCount, &a.Reputation); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AgentProfile{}, store.ErrNotFound
		}
		return models.AgentProfile{}, err
	}
	a.Status = models.AgentStatus(status)
	return a, nil
}

func (s *Store) GetAgent(ctx context.Context, did string) (models.AgentProfile, error) {
	row := s.pool.QueryRow(ctx, `SELECT did, inbox_url, display_name, public_key_multibase, status, contribution_count, reputation FROM agents WHERE did = $1`, did)
	return scanAgent(row)
}

func (s *Store) DeleteAgent(ctx context.Context, did string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE did = $1`, did)
	return err
}

func (s *Store) ListAgents(ctx context.Context) ([]models.AgentProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT did, inbox_url, display_name, public_key_multibase, status, contribution_count, reputation FROM agents ORDER BY did ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AgentProfile
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentReputation(ctx context.Context, did string, newReputation float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET reputation = $1 WHERE did = $2`, newReputation, did)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddFollow(ctx context.Context, follower, followee string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO follows (follower, followee) VALUES ($1, $2) ON CONFLICT DO NOTHING`, follower, followee)
	return err
}

func (s *Store) RemoveFollow(ctx context.Context, follower, followee string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM follows WHERE follower = $1 AND followee = $2`, follower, followee)
	return err
}

func (s *Store) IsFollowing(ctx context.Context, follower, followee string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM follows WHERE follower = $1 AND followee = $2)`, follower, followee).Scan(&exists)
	return exists, err
}

func (s *Store) listFollowColumn(ctx context.Context, column, matchColumn, did, after string, limit int) (store.FollowPage, error) {
	limit = store.ClampLimit(limit, 50, 500)
	query := fmt.Sprintf(`SELECT %s FROM follows WHERE %s = $1 AND %s > $2 ORDER BY %s ASC LIMIT $3`, column, matchColumn, column, column)
	rows, err := s.pool.Query(ctx, query, did, after, limit+1)
	if err != nil {
		return store.FollowPage{}, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return store.FollowPage{}, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return store.FollowPage{}, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	fp := store.FollowPage{DIDs: out, HasMore: hasMore}
	if len(out) > 0 {
		fp.Cursor = out[len(out)-1]
	}
	return fp, nil
}

func (s *Store) ListFollowing(ctx context.Context, did, after string, limit int) (store.FollowPage, error) {
	return s.listFollowColumn(ctx, "followee", "follower", did, after, limit)
}

func (s *Store) ListFollowers(ctx context.Context, did, after string, limit int) (store.FollowPage, error) {
	return s.listFollowColumn(ctx, "follower", "followee", did, after, limit)
}

func scanPeer(row pgx.Row) (models.PeerRecord, error) {
	var p models.PeerRecord
	if err := row.Scan(&p.NodeID, &p.APIBase, &p.Reputation, &p.LastContact); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PeerRecord{}, store.ErrNotFound
		}
		return models.PeerRecord{}, err
	}
	return p, nil
}

func (s *Store) UpsertPeer(ctx context.Context, p models.PeerRecord) (models.PeerRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO peers (node_id, api_base, reputation, last_contact)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id) DO UPDATE SET api_base = EXCLUDED.api_base
		RETURNING node_id, api_base, reputation, last_contact`,
		p.NodeID, p.APIBase, p.Reputation, p.LastContact,
	)
	return scanPeer(row)
}

func (s *Store) GetPeer(ctx context.Context, nodeID string) (models.PeerRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT node_id, api_base, reputation, last_contact FROM peers WHERE node_id = $1`, nodeID)
	return scanPeer(row)
}

func (s *Store) ListPeers(ctx context.Context) ([]models.PeerRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT node_id, api_base, reputation, last_contact FROM peers ORDER BY node_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PeerRecord
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePeerReputation(ctx context.Context, nodeID string, newReputation float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE peers SET reputation = $1 WHERE node_id = $2`, newReputation, nodeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchPeerLastContact(ctx context.Context, nodeID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE peers SET last_contact = $1 WHERE node_id = $2`, at, nodeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountPeers(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM peers`).Scan(&n)
	return n, err
}

func (s *Store) EvictWorstPeer(ctx context.Context) (models.PeerRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM peers WHERE node_id = (
			SELECT node_id FROM peers
			ORDER BY reputation ASC, last_contact ASC NULLS FIRST
			LIMIT 1)
		RETURNING node_id, api_base, reputation, last_contact`)
	p, err := scanPeer(row)
	if errors.Is(err, store.ErrNotFound) {
		return models.PeerRecord{}, false, nil
	}
	if err != nil {
		return models.PeerRecord{}, false, err
	}
	return p, true, nil
}

func (s *Store) DeliverToInbox(ctx context.Context, agentDID string, u models.Unit) (bool, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_entries (agent_did, unit_id, body)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, agentDID, u.ID, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListInbox(ctx context.Context, agentDID, after string, limit int) (store.Page, error) {
	limit = store.ClampLimit(limit, 50, 100)
	rows, err := s.pool.Query(ctx, `
		SELECT body FROM inbox_entries
		WHERE agent_did = $1 AND unit_id > $2
		ORDER BY unit_id ASC LIMIT $3`, agentDID, after, limit+1)
	if err != nil {
		return store.Page{}, err
	}
	defer rows.Close()
	var units []models.Unit
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return store.Page{}, err
		}
		var u models.Unit
		if err := json.Unmarshal(body, &u); err != nil {
			return store.Page{}, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, err
	}
	hasMore := len(units) > limit
	if hasMore {
		units = units[:limit]
	}
	page := store.Page{Units: units, HasMore: hasMore}
	if len(units) > 0 {
		page.Cursor = units[len(units)-1].ID
	}
	return page, nil
}

func (s *Store) GetCursor(ctx context.Context, peerAPIBase string) (string, bool, error) {
	var cursor string
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM sync_cursors WHERE peer_api_base = $1`, peerAPIBase).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	return cursor, err == nil, err
}

func (s *Store) SetCursor(ctx context.Context, peerAPIBase, cursor string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (peer_api_base, cursor) VALUES ($1, $2)
		ON CONFLICT (peer_api_base) DO UPDATE SET cursor = EXCLUDED.cursor`, peerAPIBase, cursor)
	return err
}

func (s *Store) GetNodeConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM node_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *Store) SetNodeConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO node_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

var _ store.Storage = (*Store)(nil)
