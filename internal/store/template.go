package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MappingTemplate is a saved column-to-field mapping, owned by a user and
// scoped to an entity type. The pipeline only ever reads it.
type MappingTemplate struct {
	ID         uuid.UUID         `json:"id"`
	UserID     uuid.UUID         `json:"-"`
	Name       string            `json:"name"`
	ObjectType string            `json:"object_type"`
	Mapping    map[string]string `json:"mapping"`
	CreatedAt  time.Time         `json:"created_at"`
}

const templateColumns = "id, user_id, name, object_type, mapping, created_at"

func scanTemplate(row pgx.Row) (*MappingTemplate, error) {
	var t MappingTemplate
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.ObjectType, &t.Mapping, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mapping template: %w", err)
	}
	return &t, nil
}

// CreateTemplate saves a new mapping template.
func (s *Store) CreateTemplate(ctx context.Context, userID uuid.UUID, name, objectType string, mapping map[string]string) (*MappingTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO mapping_templates (id, user_id, name, object_type, mapping)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+templateColumns,
		uuid.New(), userID, name, objectType, mapping)
	return scanTemplate(row)
}

// GetTemplate loads a template owned by the given user.
func (s *Store) GetTemplate(ctx context.Context, id, userID uuid.UUID) (*MappingTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanTemplate(row)
}

// ListTemplates returns the user's templates, newest first.
func (s *Store) ListTemplates(ctx context.Context, userID uuid.UUID) ([]MappingTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list mapping templates: %w", err)
	}
	defer rows.Close()

	var templates []MappingTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a template owned by the given user.
func (s *Store) DeleteTemplate(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mapping_templates WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete mapping template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
