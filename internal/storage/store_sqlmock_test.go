package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clinic-finder-server/internal/models"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return NewGormStore(db), mock
}

func TestFindClinicPropagatesDriverErrors(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `clinics`").
		WillReturnError(errors.New("dial tcp 10.0.0.5:3306: connection refused"))

	_, err := store.FindClinic(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRollsBackWhenSlotCheckFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `appointments`").
		WillReturnError(errors.New("server has gone away"))
	mock.ExpectRollback()

	appt := &models.Appointment{
		ClinicID:        1,
		AppointmentDate: "2025-01-10",
		AppointmentTime: "09:00",
	}
	err := store.InsertAppointmentIfSlotFree(context.Background(), appt)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotTaken)
	assert.Zero(t, appt.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTranslatesDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `appointments`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `appointments`").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry '1-2025-01-10-09:00-1' for key 'idx_appointment_slot'"))
	mock.ExpectRollback()

	appt := &models.Appointment{
		ClinicID:        1,
		AppointmentDate: "2025-01-10",
		AppointmentTime: "09:00",
		Status:          models.StatusConfirmed,
	}
	err := store.InsertAppointmentIfSlotFree(context.Background(), appt)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Nil(t, appt.SlotHold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRollsBackOnDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `appointments`").
		WillReturnError(errors.New("lock wait timeout exceeded"))
	mock.ExpectRollback()

	_, err := store.UpdateAppointmentStatus(context.Background(), 3, models.StatusCancelled, models.StatusChange{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}
