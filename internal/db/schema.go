package db

import "gorm.io/gorm"

// EnsureSchema creates the named postgres schema if it is missing. Each
// feature package owns one schema and calls this from its Init.
func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}
