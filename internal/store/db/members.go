package db

import (
	"context"
	"fmt"

	"github.com/gatherapp/gather/internal/models"
)

// AddMemberContext adds a user to a group or updates their role.
// Returns ErrNotFound if the group doesn't exist.
func (db *DB) AddMemberContext(ctx context.Context, groupID int64, userID string, role models.Role) error {
	member := &models.Member{GroupID: groupID, UserID: userID, Role: role}
	if err := member.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := groupExists(ctx, tx, groupID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO group_members (groupId, userId, role)
	VALUES (?, ?, ?)
	ON CONFLICT(groupId, userId) DO UPDATE SET
		role = excluded.role
	`, member.GroupID, member.UserID, string(member.Role))
	if err != nil {
		return fmt.Errorf("failed to upsert member %s in group %d: %w", userID, groupID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListMembersContext returns the members of a group in insertion order.
func (db *DB) ListMembersContext(ctx context.Context, groupID int64) ([]models.Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT groupId, userId, role FROM group_members WHERE groupId = ? ORDER BY rowid`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		var role string
		if err := rows.Scan(&m.GroupID, &m.UserID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}
