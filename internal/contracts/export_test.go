package contracts

import (
	"context"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
)

// ReleaseOne exposes the per-submission auto-release step to the external tests
func (s *Service) ReleaseOne(ctx context.Context, submissionID, contractID uuid.UUID, now time.Time) (*models.Contract, bool, error) {
	return s.releaseOne(ctx, submissionID, contractID, now)
}

var ErrNotDue = errNotDue
