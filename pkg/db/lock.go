package db

import "gorm.io/gorm"

// LockForUpdate returns the row-lock suffix for raw SELECT statements.
// SQLite serializes writers at the connection level and rejects the
// clause, so it gets no suffix.
func LockForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return " FOR UPDATE"
	}
	if tx.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}
