package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/repository"
)

const (
	ckPositions         = "positions_user_%d"
	ckVisibleOperations = "operations_visible_user_%d"
	ckAllOperations     = "operations_all_user_%d"
)

type portfolioServiceImpl struct {
	db          *sql.DB
	reportCache *cache.Cache
}

// NewPortfolioService reads position books. Listings are cached per user until
// a batch commits for that user.
func NewPortfolioService(db *sql.DB, reportCache *cache.Cache) PortfolioService {
	return &portfolioServiceImpl{db: db, reportCache: reportCache}
}

func (s *portfolioServiceImpl) ListPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	cacheKey := fmt.Sprintf(ckPositions, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for positions", "userID", userID)
		return cached.([]models.Position), nil
	}

	positions, err := repository.NewStore(s.db).Positions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.reportCache.SetDefault(cacheKey, positions)
	return positions, nil
}

func (s *portfolioServiceImpl) GetPosition(ctx context.Context, userID int64, positionID string) (*PositionDetail, error) {
	store := repository.NewStore(s.db)
	book, err := store.LoadBook(ctx, positionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	if book.Position.UserID != userID {
		return nil, ErrPositionNotFound
	}
	records, err := store.ExitRecords.ListByPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	return &PositionDetail{
		Position:    book.Position,
		Group:       book.Group,
		Lots:        book.Lots,
		ExitRecords: records,
		Items:       book.Items,
		Operations:  book.Operations,
	}, nil
}

func (s *portfolioServiceImpl) ListOperations(ctx context.Context, userID int64, includeHidden bool) ([]models.Operation, error) {
	cacheKey := fmt.Sprintf(ckVisibleOperations, userID)
	if includeHidden {
		cacheKey = fmt.Sprintf(ckAllOperations, userID)
	}
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.([]models.Operation), nil
	}

	ops, err := repository.NewStore(s.db).Operations.ListByUser(ctx, userID, includeHidden)
	if err != nil {
		return nil, err
	}
	s.reportCache.SetDefault(cacheKey, ops)
	return ops, nil
}

// InvalidateUserCache drops every cached listing of userID.
func (s *portfolioServiceImpl) InvalidateUserCache(userID int64) {
	for _, key := range []string{ckPositions, ckVisibleOperations, ckAllOperations} {
		s.reportCache.Delete(fmt.Sprintf(key, userID))
	}
	logger.L.Info("Invalidated portfolio caches for user", "userID", userID)
}
