package postgresadapter

import "gorm.io/gorm"

// Migrate creates or updates the engine's tables. Hosts call it once at
// startup; production deployments may manage the schema externally instead.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ballotRecordModel{},
		&outboxModel{},
		&eventDedupModel{},
	)
}
