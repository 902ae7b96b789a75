package entitlements

import (
	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Capability flags granted per subscription scope. Each scope maps to
// exactly four flags; expiry of a scope subscription revokes all of them.
const (
	CapCreatorEventPublishing = "creator_event_publishing"
	CapCreatorBulkUpload      = "creator_bulk_upload"
	CapCreatorPriorityMatch   = "creator_priority_match"
	CapCreatorReducedFees     = "creator_reduced_fees"

	CapAttendeeUnlimitedDownloads = "attendee_unlimited_downloads"
	CapAttendeeOriginalQuality    = "attendee_original_quality"
	CapAttendeeAdFree             = "attendee_ad_free"
	CapAttendeeEarlyAccess        = "attendee_early_access"

	CapVaultExtendedStorage = "vault_extended_storage"
	CapVaultOriginalBackup  = "vault_original_backup"
	CapVaultFamilySharing   = "vault_family_sharing"
	CapVaultArchiveExport   = "vault_archive_export"
)

// CapabilitiesForScope returns the paid capability flags a subscription scope
// grants. Unknown scopes grant nothing.
func CapabilitiesForScope(scope string) []string {
	switch scope {
	case models.SubscriptionScopeCreator:
		return []string{CapCreatorEventPublishing, CapCreatorBulkUpload, CapCreatorPriorityMatch, CapCreatorReducedFees}
	case models.SubscriptionScopeAttendee:
		return []string{CapAttendeeUnlimitedDownloads, CapAttendeeOriginalQuality, CapAttendeeAdFree, CapAttendeeEarlyAccess}
	case models.SubscriptionScopeVault:
		return []string{CapVaultExtendedStorage, CapVaultOriginalBackup, CapVaultFamilySharing, CapVaultArchiveExport}
	default:
		return nil
	}
}

// GrantScope grants all capability flags of a scope to a user. Re-granting
// already present flags is a no-op.
func GrantScope(db *gorm.DB, userID uint, scope string) error {
	for _, cap := range CapabilitiesForScope(scope) {
		row := &models.UserCapability{UserID: userID, Capability: cap}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "capability"}},
			DoNothing: true,
		}).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

// RevokeScope removes all capability flags of a scope from a user.
func RevokeScope(db *gorm.DB, userID uint, scope string) error {
	caps := CapabilitiesForScope(scope)
	if len(caps) == 0 {
		return nil
	}
	return db.Where("user_id = ? AND capability IN ?", userID, caps).
		Delete(&models.UserCapability{}).Error
}

// HasCapability checks whether a user currently holds a capability flag.
func HasCapability(db *gorm.DB, userID uint, capability string) (bool, error) {
	var count int64
	err := db.Model(&models.UserCapability{}).
		Where("user_id = ? AND capability = ?", userID, capability).
		Count(&count).Error
	return count > 0, err
}
