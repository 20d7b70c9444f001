package db

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AddRecipient registers a pending notification address for a form.
// The returned recipient carries a fresh verification token valid for
// ttl; the address receives nothing until verified.
func AddRecipient(db *gorm.DB, formID uint, address string, ttl time.Duration) (*EmailRecipient, error) {
	token, err := newVerificationToken()
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(ttl)
	rec := &EmailRecipient{
		FormID:            formID,
		Address:           address,
		Enabled:           true,
		VerificationToken: token,
		TokenExpiresAt:    &expires,
	}
	if err := db.Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// VerifyRecipient marks the recipient holding token as verified.
// Verification is monotonic: an already-verified recipient stays
// verified, an expired token is rejected.
func VerifyRecipient(db *gorm.DB, token string) (*EmailRecipient, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var rec EmailRecipient
	err := db.Where("verification_token = ?", token).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.VerifiedAt != nil {
		return &rec, nil
	}
	if rec.TokenExpiresAt == nil || rec.TokenExpiresAt.Before(time.Now()) {
		return nil, ErrNotFound
	}

	now := time.Now()
	updates := map[string]interface{}{
		"verified_at":        now,
		"verification_token": "",
		"token_expires_at":   nil,
	}
	if err := db.Model(&rec).Updates(updates).Error; err != nil {
		return nil, err
	}
	rec.VerifiedAt = &now
	return &rec, nil
}

// VerifiedRecipients returns the enabled, verified addresses for a form.
func VerifiedRecipients(db *gorm.DB, formID uint) ([]EmailRecipient, error) {
	var recs []EmailRecipient
	err := db.Where("form_id = ? AND enabled = ? AND verified_at IS NOT NULL", formID, true).
		Find(&recs).Error
	return recs, err
}

func newVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
