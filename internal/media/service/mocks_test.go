package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

// StoreMock overrides the media calls; anything else panics through the
// nil embedded Registry.
type StoreMock struct {
	mock.Mock
	repository.Registry
}

func (m *StoreMock) Create(ctx context.Context, media *models.Media) error {
	args := m.Called(ctx, media)
	return args.Error(0)
}

func (m *StoreMock) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*models.Media), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) InTx(ctx context.Context, fn func(tx repository.Registry) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}
