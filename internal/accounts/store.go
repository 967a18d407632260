// Package accounts manages configured external integrations and their
// encrypted configuration blobs.
package accounts

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/connector-nexus/internal/db/models"
	"github.com/pysugar/connector-nexus/internal/secrets"
	"gorm.io/gorm"
)

// Config is the decrypted account configuration. Provider-specific extras
// beyond these fields are preserved verbatim across read-modify-write
// cycles (see PatchRefreshToken).
type Config struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RefreshToken string `json:"refreshToken"`
	Tenant       string `json:"tenant,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
}

// ConfigError indicates a persisted account blob that cannot be decrypted
// or decoded. It is not retryable; the account needs reconfiguration.
type ConfigError struct {
	AccountID string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("account %s has malformed config: %s", e.AccountID, e.Reason)
}

// Store provides account persistence over gorm with blob encryption.
type Store struct {
	db     *gorm.DB
	cipher secrets.Cipher
}

// NewStore creates an account store.
func NewStore(db *gorm.DB, cipher secrets.Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// Create encrypts cfg and persists a new active account.
func (s *Store) Create(name, connector string, cfg Config) (*models.Account, error) {
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding account config: %w", err)
	}

	account := &models.Account{
		ID:        uuid.New().String(),
		Name:      name,
		Connector: connector,
		IsActive:  true,
	}

	blob, err := s.cipher.Encrypt(plaintext, []byte(account.ID))
	if err != nil {
		return nil, fmt.Errorf("encrypting account config: %w", err)
	}
	account.ConfigBlob = blob

	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}
	log.Printf("✅ Created account %s (%s/%s)", account.ID, connector, name)
	return account, nil
}

// Get returns one account by ID.
func (s *Store) Get(accountID string) (*models.Account, error) {
	var account models.Account
	if err := s.db.First(&account, "id = ?", accountID).Error; err != nil {
		return nil, fmt.Errorf("account not found: %s", accountID)
	}
	return &account, nil
}

// ListEnabled returns all active accounts, optionally filtered by
// connector type.
func (s *Store) ListEnabled(connector string) ([]models.Account, error) {
	var list []models.Account
	q := s.db.Where("is_active = ?", true)
	if connector != "" {
		q = q.Where("connector = ?", connector)
	}
	if err := q.Order("created_at").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// SetActive toggles the enabled flag.
func (s *Store) SetActive(accountID string, active bool) error {
	return s.db.Model(&models.Account{}).Where("id = ?", accountID).
		Update("is_active", active).Error
}

// Delete removes an account.
func (s *Store) Delete(accountID string) error {
	return s.db.Delete(&models.Account{}, "id = ?", accountID).Error
}

// DecodeConfig decrypts and decodes an account's configuration blob.
func (s *Store) DecodeConfig(account *models.Account) (*Config, error) {
	plaintext, err := s.cipher.Decrypt(account.ConfigBlob, []byte(account.ID))
	if err != nil {
		return nil, &ConfigError{AccountID: account.ID, Reason: "decrypt failed"}
	}
	var cfg Config
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, &ConfigError{AccountID: account.ID, Reason: "invalid JSON"}
	}
	return &cfg, nil
}

// PatchRefreshToken rewrites only the refreshToken field inside the
// account's encrypted blob. Every other field — including provider
// extras this code knows nothing about — round-trips unchanged.
func (s *Store) PatchRefreshToken(accountID, refreshToken string) error {
	account, err := s.Get(accountID)
	if err != nil {
		return err
	}

	plaintext, err := s.cipher.Decrypt(account.ConfigBlob, []byte(account.ID))
	if err != nil {
		return &ConfigError{AccountID: account.ID, Reason: "decrypt failed"}
	}

	// Decode to raw messages so unknown fields survive the rewrite.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return &ConfigError{AccountID: account.ID, Reason: "invalid JSON"}
	}

	encoded, err := json.Marshal(refreshToken)
	if err != nil {
		return fmt.Errorf("encoding refresh token: %w", err)
	}
	fields["refreshToken"] = encoded

	updated, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("re-encoding account config: %w", err)
	}

	blob, err := s.cipher.Encrypt(updated, []byte(account.ID))
	if err != nil {
		return fmt.Errorf("re-encrypting account config: %w", err)
	}

	if err := s.db.Model(&models.Account{}).Where("id = ?", account.ID).
		Updates(map[string]any{"config_blob": blob, "updated_at": time.Now()}).Error; err != nil {
		return err
	}
	log.Printf("🔄 Rotated refresh token for account %s", account.ID)
	return nil
}
