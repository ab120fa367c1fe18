package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"councild/internal/models"
	"councild/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- councils ---------------------------------------------------------------

func (s *Store) GetCouncil(ctx context.Context, id uint64) (*models.Council, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Council
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCouncils(ctx context.Context, params repository.ListCouncilsParams) ([]models.Council, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyCouncilFilters(s.db.WithContext(ctx).Model(&models.Council{}), params)
	limit := normalizeLimit(params.Limit, 200)
	var items []models.Council
	if err := query.Order("id asc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCouncils(ctx context.Context, params repository.ListCouncilsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyCouncilFilters(s.db.WithContext(ctx).Model(&models.Council{}), params).Count(&count).Error
	return count, err
}

func applyCouncilFilters(query *gorm.DB, params repository.ListCouncilsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.TradingMode != nil && strings.TrimSpace(*params.TradingMode) != "" {
		query = query.Where("trading_mode = ?", strings.TrimSpace(*params.TradingMode))
	}
	return query
}

func (s *Store) ListSchedulableCouncils(ctx context.Context) ([]models.Council, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Council
	err := s.db.WithContext(ctx).
		Where("status = ?", "active").
		Where("schedule_interval_seconds > 0").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveCouncil(ctx context.Context, item *models.Council) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

// --- runs -------------------------------------------------------------------

func (s *Store) CreateRun(ctx context.Context, item *models.CouncilRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SealRun(ctx context.Context, item *models.CouncilRun) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetRunByUID(ctx context.Context, uid string) (*models.CouncilRun, error) {
	if s == nil || s.db == nil || strings.TrimSpace(uid) == "" {
		return nil, nil
	}
	var item models.CouncilRun
	err := s.db.WithContext(ctx).First(&item, "uid = ?", strings.TrimSpace(uid)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRuns(ctx context.Context, params repository.ListRunsParams) ([]models.CouncilRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyRunFilters(s.db.WithContext(ctx).Model(&models.CouncilRun{}), params)
	limit := normalizeLimit(params.Limit, 100)
	var items []models.CouncilRun
	if err := query.Order("started_at desc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRuns(ctx context.Context, params repository.ListRunsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyRunFilters(s.db.WithContext(ctx).Model(&models.CouncilRun{}), params).Count(&count).Error
	return count, err
}

func applyRunFilters(query *gorm.DB, params repository.ListRunsParams) *gorm.DB {
	if params.CouncilID != nil && *params.CouncilID > 0 {
		query = query.Where("council_id = ?", *params.CouncilID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) FailStaleRuns(ctx context.Context, before time.Time, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.CouncilRun{}).
		Where("status = ?", models.RunInProgress).
		Where("started_at < ?", before).
		Updates(map[string]any{
			"status":        models.RunFailed,
			"completed_at":  now,
			"error_message": reason,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) CreateRunCycle(ctx context.Context, item *models.CouncilRunCycle) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRunCycles(ctx context.Context, runID uint64) ([]models.CouncilRunCycle, error) {
	if s == nil || s.db == nil || runID == 0 {
		return nil, nil
	}
	var items []models.CouncilRunCycle
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id asc").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- debate transcript ------------------------------------------------------

func (s *Store) CreateDebateMessages(ctx context.Context, items []models.AgentDebateMessage) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

func (s *Store) ListDebateMessages(ctx context.Context, params repository.ListDebateMessagesParams) ([]models.AgentDebateMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AgentDebateMessage{})
	if params.CouncilID != nil && *params.CouncilID > 0 {
		query = query.Where("council_id = ?", *params.CouncilID)
	}
	if params.RunID != nil && *params.RunID > 0 {
		query = query.Where("run_id = ?", *params.RunID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	limit := normalizeLimit(params.Limit, 200)
	var items []models.AgentDebateMessage
	if err := query.Order("id asc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- consensus decisions ----------------------------------------------------

func (s *Store) CreateConsensusDecision(ctx context.Context, item *models.ConsensusDecision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SetDecisionExecution(ctx context.Context, id uint64, executed bool, reason string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.ConsensusDecision{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"executed":         executed,
			"execution_reason": reason,
		}).Error
}

func (s *Store) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.ConsensusDecision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ConsensusDecision{})
	if params.CouncilID != nil && *params.CouncilID > 0 {
		query = query.Where("council_id = ?", *params.CouncilID)
	}
	if params.RunID != nil && *params.RunID > 0 {
		query = query.Where("run_id = ?", *params.RunID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	limit := normalizeLimit(params.Limit, 100)
	var items []models.ConsensusDecision
	if err := query.Order("created_at desc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- orders -----------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, item *models.MarketOrder) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveOrder(ctx context.Context, item *models.MarketOrder) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetOrderByToken(ctx context.Context, token string) (*models.MarketOrder, error) {
	if s == nil || s.db == nil || strings.TrimSpace(token) == "" {
		return nil, nil
	}
	var item models.MarketOrder
	err := s.db.WithContext(ctx).First(&item, "idempotency_token = ?", strings.TrimSpace(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.MarketOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.MarketOrder{}), params)
	limit := normalizeLimit(params.Limit, 100)
	var items []models.MarketOrder
	if err := query.Order("created_at desc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyOrderFilters(s.db.WithContext(ctx).Model(&models.MarketOrder{}), params).Count(&count).Error
	return count, err
}

func applyOrderFilters(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.CouncilID != nil && *params.CouncilID > 0 {
		query = query.Where("council_id = ?", *params.CouncilID)
	}
	if params.RunID != nil && *params.RunID > 0 {
		query = query.Where("run_id = ?", *params.RunID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

// --- holdings and positions -------------------------------------------------

func (s *Store) GetHolding(ctx context.Context, councilID uint64, symbol string) (*models.Holding, error) {
	if s == nil || s.db == nil || councilID == 0 || strings.TrimSpace(symbol) == "" {
		return nil, nil
	}
	var item models.Holding
	err := s.db.WithContext(ctx).
		Where("council_id = ? AND symbol = ?", councilID, strings.TrimSpace(symbol)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListActiveHoldings(ctx context.Context, councilID uint64) ([]models.Holding, error) {
	if s == nil || s.db == nil || councilID == 0 {
		return nil, nil
	}
	var items []models.Holding
	err := s.db.WithContext(ctx).
		Where("council_id = ?", councilID).
		Where("status = ?", "active").
		Where("quantity > 0").
		Order("symbol asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveHolding(ctx context.Context, item *models.Holding) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.ID != 0 {
		return s.db.WithContext(ctx).Save(item).Error
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "council_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity",
			"average_cost",
			"total_cost",
			"current_price",
			"unrealized_pnl",
			"status",
			"closed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetOpenPosition(ctx context.Context, councilID uint64, symbol string) (*models.FuturesPosition, error) {
	if s == nil || s.db == nil || councilID == 0 || strings.TrimSpace(symbol) == "" {
		return nil, nil
	}
	var item models.FuturesPosition
	err := s.db.WithContext(ctx).
		Where("council_id = ? AND symbol = ?", councilID, strings.TrimSpace(symbol)).
		Where("status = ?", "open").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, councilID uint64) ([]models.FuturesPosition, error) {
	if s == nil || s.db == nil || councilID == 0 {
		return nil, nil
	}
	var items []models.FuturesPosition
	err := s.db.WithContext(ctx).
		Where("council_id = ?", councilID).
		Where("status = ?", "open").
		Order("symbol asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.FuturesPosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.ID != 0 {
		return s.db.WithContext(ctx).Save(item).Error
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// --- performance snapshots --------------------------------------------------

func (s *Store) CreateSnapshot(ctx context.Context, item *models.PerformanceSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSnapshots(ctx context.Context, params repository.ListSnapshotsParams) ([]models.PerformanceSnapshot, error) {
	if s == nil || s.db == nil || params.CouncilID == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.PerformanceSnapshot{}).
		Where("council_id = ?", params.CouncilID)
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("taken_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 500)
	var items []models.PerformanceSnapshot
	if err := query.Order("taken_at desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- daemon marker ----------------------------------------------------------

func (s *Store) GetDaemonMarker(ctx context.Context) (*models.DaemonMarker, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DaemonMarker
	err := s.db.WithContext(ctx).Order("heartbeat_at desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ReplaceDaemonMarker installs this instance's marker, removing any marker
// left behind by earlier processes.
func (s *Store) ReplaceDaemonMarker(ctx context.Context, item *models.DaemonMarker) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id <> ?", item.InstanceID).Delete(&models.DaemonMarker{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "instance_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"hostname",
				"pid",
				"started_at",
				"heartbeat_at",
			}),
		}).Create(item).Error
	})
}

func (s *Store) TouchDaemonMarker(ctx context.Context, instanceID string, at time.Time) error {
	if s == nil || s.db == nil || strings.TrimSpace(instanceID) == "" {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.DaemonMarker{}).
		Where("instance_id = ?", instanceID).
		Update("heartbeat_at", at).Error
}

func (s *Store) DeleteDaemonMarker(ctx context.Context, instanceID string) error {
	if s == nil || s.db == nil || strings.TrimSpace(instanceID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Delete(&models.DaemonMarker{}).Error
}

// --- helpers ----------------------------------------------------------------

func normalizeLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
