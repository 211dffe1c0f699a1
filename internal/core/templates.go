package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qbloader/qbloader/internal/store"
)

// CreateTemplate stores a reusable column mapping for the user.
func (s *Service) CreateTemplate(ctx context.Context, userID uuid.UUID, name, objectType string, mapping map[string]string) (*store.MappingTemplate, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if objectType == "" {
		objectType = ObjectTypeCustomer
	}
	if objectType != ObjectTypeCustomer {
		return nil, fmt.Errorf("unsupported object type %q", objectType)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("mapping is required")
	}
	return s.store.CreateTemplate(ctx, userID, name, objectType, mapping)
}

// GetTemplate returns one of the user's templates.
func (s *Service) GetTemplate(ctx context.Context, userID, id uuid.UUID) (*store.MappingTemplate, error) {
	return s.store.GetTemplate(ctx, id, userID)
}

// ListTemplates returns the user's stored mappings.
func (s *Service) ListTemplates(ctx context.Context, userID uuid.UUID) ([]store.MappingTemplate, error) {
	return s.store.ListTemplates(ctx, userID)
}

// DeleteTemplate removes one of the user's templates.
func (s *Service) DeleteTemplate(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.DeleteTemplate(ctx, id, userID)
}
