package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// UsersWithRoleAt returns active users whose membership for role is
// effective at t. Always a point-in-time interval query — the user row
// never caches a role, so roles reassigned years apart resolve correctly.
func (s *PostgresStore) UsersWithRoleAt(ctx context.Context, role string, at time.Time) ([]*UserRef, error) {
	query := `
		SELECT DISTINCT u.id, m.role
		FROM users u
		JOIN role_memberships m ON m.user_id = u.id
		WHERE u.is_active = TRUE
		  AND m.role = $1
		  AND m.valid_from <= $2
		  AND (m.valid_to IS NULL OR m.valid_to > $2)
		ORDER BY u.id ASC
	`

	rows, err := s.q.Query(ctx, query, role, at)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get users with role")
	}
	defer rows.Close()

	var users []*UserRef
	for rows.Next() {
		u := &UserRef{}
		var roleName string
		if err := rows.Scan(&u.ID, &roleName); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		u.Role = &roleName
		users = append(users, u)
	}
	return users, rows.Err()
}

// ActiveUsers returns every active user with their currently effective role
// when they hold one. Backs open stages (no required role), where every
// active user gets a materialized assignment. DISTINCT ON keeps one row per
// user when several memberships are concurrently effective — a duplicate
// row here would violate the unique assignment constraint downstream; the
// most recently granted role wins, matching MemoryStore.
func (s *PostgresStore) ActiveUsers(ctx context.Context) ([]*UserRef, error) {
	query := `
		SELECT DISTINCT ON (u.id) u.id, m.role
		FROM users u
		LEFT JOIN role_memberships m
		       ON m.user_id = u.id
		      AND m.valid_from <= NOW()
		      AND (m.valid_to IS NULL OR m.valid_to > NOW())
		WHERE u.is_active = TRUE
		ORDER BY u.id ASC, m.valid_from DESC NULLS LAST
	`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active users")
	}
	defer rows.Close()

	var users []*UserRef
	for rows.Next() {
		u := &UserRef{}
		if err := rows.Scan(&u.ID, &u.Role); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// PendingApprovalsForUser backs the "pending approvals for me" view:
// assignments for the user joined against active stages of in-progress
// workflows.
func (s *PostgresStore) PendingApprovalsForUser(ctx context.Context, userID string) ([]*PendingApproval, error) {
	query := `
		SELECT w.id, w.entity_type, w.entity_id,
		       si.id, si.name, si.order_index, a.assigned_at
		FROM approval_assignments a
		JOIN approval_stage_instances si ON si.id = a.stage_instance_id
		JOIN approval_workflow_instances w ON w.id = si.instance_id
		WHERE a.user_id  = $1
		  AND si.status  = 'active'
		  AND w.status   = 'in_progress'
		ORDER BY a.assigned_at ASC
	`

	rows, err := s.q.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	var pending []*PendingApproval
	for rows.Next() {
		p := &PendingApproval{}
		err := rows.Scan(
			&p.InstanceID,
			&p.EntityType,
			&p.EntityID,
			&p.StageInstanceID,
			&p.StageName,
			&p.OrderIndex,
			&p.AssignedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending approval")
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
