// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clinic-finder-server/internal/models"
)

// NewDB returns a migrated SQLite database in t's temp dir. The pool holds a
// single connection so concurrent transactions run one after another, the way
// row locks would order them on a server database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clinic-finder.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = models.CloseDB(db) })
	return db
}

// SeedClinic stores an active clinic open with the same window every day of the week.
func SeedClinic(t testing.TB, db *gorm.DB, name, open, close string) models.Clinic {
	t.Helper()

	clinic := models.Clinic{
		Name:      name,
		Address:   "Rruga e Durresit 12",
		City:      "Tirana",
		Latitude:  41.3275,
		Longitude: 19.8187,
		Status:    models.ClinicActive,
	}
	for day := 0; day < 7; day++ {
		clinic.Hours = append(clinic.Hours, models.ClinicHours{
			DayOfWeek:   day,
			OpeningTime: open,
			ClosingTime: close,
		})
	}
	if err := db.Create(&clinic).Error; err != nil {
		t.Fatalf("seed clinic: %v", err)
	}
	return clinic
}

// SeedUser stores a user with the given role and password "password123".
func SeedUser(t testing.TB, db *gorm.DB, email string, role models.Role) models.User {
	t.Helper()

	user := models.User{Email: email, FirstName: "Test", LastName: "User", Role: role}
	if err := user.SetPassword("password123"); err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}
