package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/connector-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB initializes the SQLite database connection and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate all models
	if err := database.AutoMigrate(&models.Account{}, &models.CacheEntry{}, &models.Config{}); err != nil {
		return nil, err
	}

	// Ensure admin API key exists (generate on first run)
	ensureAPIKey(database)

	return database, nil
}

// ensureAPIKey generates the admin API key if not exists
func ensureAPIKey(database *gorm.DB) {
	var config models.Config
	result := database.Where("key = ?", "api_key").First(&config)

	if result.Error != nil {
		// Generate new API key: sk-<32 hex chars>
		keyBytes := make([]byte, 16)
		rand.Read(keyBytes)
		apiKey := "sk-" + hex.EncodeToString(keyBytes)

		database.Create(&models.Config{
			Key:   "api_key",
			Value: apiKey,
		})
		log.Printf("🔑 Generated new admin API key: %s", apiKey)
	}
}

// GetAPIKey retrieves the admin API key from the database
func GetAPIKey(database *gorm.DB) string {
	var config models.Config
	database.Where("key = ?", "api_key").First(&config)
	return config.Value
}

// RegenerateAPIKey creates a new admin API key
func RegenerateAPIKey(database *gorm.DB) string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	apiKey := "sk-" + hex.EncodeToString(keyBytes)

	database.Model(&models.Config{}).Where("key = ?", "api_key").Update("value", apiKey)
	log.Printf("🔑 Regenerated admin API key: %s", apiKey)
	return apiKey
}
