package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"formsink/internal/config"
)

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate auto-migrates the core tables and creates the partial unique
// index that keeps (owner, name) unique among non-deleted forms. Soft
// deleted rows must not block the name from being reused, so the index
// cannot be a plain gorm uniqueIndex tag.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{}, &APIKey{}, &Form{}, &Submission{},
		&UsageCounter{}, &NotificationEvent{}, &EmailRecipient{}, &DeliveryStat{},
	); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_forms_owner_name_active
		 ON forms (owner_id, name) WHERE deleted_at IS NULL`,
	).Error
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		Email:        cfg.AdminEmail,
		IsAdmin:      true,
	}

	return db.Create(admin).Error
}

// EnsureBootstrapAPIKey ensures the bootstrap admin owns a full-access
// key matching APP_BOOTSTRAP_API_KEY, so submissions can be collected
// before any key has been created through the management API. If the
// key already exists but is owned by a different user, it is reassigned
// to the admin.
func EnsureBootstrapAPIKey(db *gorm.DB, cfg *config.Config) error {
	if cfg.BootstrapAPIKey == "" {
		return nil
	}

	var admin User
	if err := db.Where("username = ?", cfg.AdminUser).First(&admin).Error; err != nil {
		return err
	}

	// Use Find so "not found" doesn't log as an error.
	var existing APIKey
	if err := db.Where("key = ?", cfg.BootstrapAPIKey).Limit(1).Find(&existing).Error; err == nil && existing.ID != 0 {
		if existing.OwnerID != admin.ID {
			existing.OwnerID = admin.ID
			existing.Name = "bootstrap"
			existing.CanRead = true
			existing.CanWrite = true
			existing.Scope = ScopeAll
			return db.Save(&existing).Error
		}
		return nil
	}

	key := &APIKey{
		OwnerID:  admin.ID,
		Name:     "bootstrap",
		Key:      cfg.BootstrapAPIKey,
		CanRead:  true,
		CanWrite: true,
		Scope:    ScopeAll,
	}

	return db.Create(key).Error
}
