package consumer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

const lockRetryDelay = 250 * time.Millisecond

// lockOutputs serialises two deliveries of the same job on one host. The
// second one waits and then finds the outputs in place.
func lockOutputs(ctx context.Context, scratchDir string, mediaID uuid.UUID, family models.Family) (*flock.Flock, error) {
	dir := filepath.Join(scratchDir, "locks")
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(dir, fmt.Sprintf("%s-%s.lock", mediaID, family)))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", fl.Path())
	}
	return fl, nil
}
