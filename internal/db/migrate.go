package db

import (
	"councild/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Council{},
		&models.CouncilRun{},
		&models.CouncilRunCycle{},
		&models.AgentDebateMessage{},
		&models.ConsensusDecision{},
		&models.MarketOrder{},
		&models.Holding{},
		&models.FuturesPosition{},
		&models.PerformanceSnapshot{},
		&models.DaemonMarker{},
	)
}
