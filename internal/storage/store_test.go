package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/testutil"
)

func newAppointment(clinicID uint, date, clock string) *models.Appointment {
	return &models.Appointment{
		ClinicID:         clinicID,
		PatientFirstName: "Ana",
		PatientLastName:  "Hoxha",
		PatientEmail:     "ana@example.com",
		Service:          "General consultation",
		AppointmentDate:  date,
		AppointmentTime:  clock,
		Status:           models.StatusConfirmed,
	}
}

func TestInsertAppointmentIfSlotFree(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	first := newAppointment(clinic.ID, "2025-01-10", "09:00")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, first))
	assert.NotZero(t, first.ID)
	require.NotNil(t, first.SlotHold)
	assert.True(t, *first.SlotHold)

	second := newAppointment(clinic.ID, "2025-01-10", "09:00")
	err := store.InsertAppointmentIfSlotFree(ctx, second)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Zero(t, second.ID)

	otherTime := newAppointment(clinic.ID, "2025-01-10", "09:30")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, otherTime))
}

func TestSlotFreedByCancellation(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	first := newAppointment(clinic.ID, "2025-01-10", "09:00")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, first))

	cancelledAt := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	cancelled, err := store.UpdateAppointmentStatus(ctx, first.ID, models.StatusCancelled, models.StatusChange{
		At:     cancelledAt,
		Reason: "feeling better",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.SlotHold)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.CancelledAt.Equal(cancelledAt))
	assert.Equal(t, "feeling better", cancelled.CancellationReason)

	again := newAppointment(clinic.ID, "2025-01-10", "09:00")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, again))

	live, err := store.FindAppointmentsOnDate(ctx, clinic.ID, "2025-01-10")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, again.ID, live[0].ID)
}

func TestUniqueIndexRejectsSecondLiveBooking(t *testing.T) {
	db := testutil.NewDB(t)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	hold := true

	a := newAppointment(clinic.ID, "2025-01-10", "10:00")
	a.SlotHold = &hold
	require.NoError(t, db.Create(a).Error)

	b := newAppointment(clinic.ID, "2025-01-10", "10:00")
	b.SlotHold = &hold
	err := db.Create(b).Error
	require.Error(t, err)
	assert.ErrorIs(t, translate(err), ErrDuplicate)
	assert.ErrorIs(t, slotConflict(translate(err)), ErrSlotTaken)

	// cancelled rows carry a NULL hold and never collide
	c := newAppointment(clinic.ID, "2025-01-10", "10:00")
	c.Status = models.StatusCancelled
	d := newAppointment(clinic.ID, "2025-01-10", "10:00")
	d.Status = models.StatusCancelled
	require.NoError(t, db.Create(c).Error)
	require.NoError(t, db.Create(d).Error)
}

func TestInsertLosesToWriterCommittingAfterCheck(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	// Another booking for the same slot lands after the free-slot check has
	// passed but before our insert runs.
	var rivalID uint
	fired := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:rival_writer", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "appointments" {
			return
		}
		fired = true
		hold := true
		rival := newAppointment(clinic.ID, "2025-01-10", "09:00")
		rival.SlotHold = &hold
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(rival).Error; err != nil {
			t.Errorf("rival insert: %v", err)
			return
		}
		rivalID = rival.ID
	}))

	appt := newAppointment(clinic.ID, "2025-01-10", "09:00")
	err := store.InsertAppointmentIfSlotFree(ctx, appt)
	require.True(t, fired)
	assert.NotZero(t, rivalID)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Nil(t, appt.SlotHold)
}

func TestUpdateAppointmentStatusTerminal(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	appt := newAppointment(clinic.ID, "2025-01-10", "09:00")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, appt))

	change := models.StatusChange{At: time.Now()}
	_, err := store.UpdateAppointmentStatus(ctx, appt.ID, models.StatusCancelled, change)
	require.NoError(t, err)

	_, err = store.UpdateAppointmentStatus(ctx, appt.ID, models.StatusCancelled, change)
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = store.UpdateAppointmentStatus(ctx, appt.ID, models.StatusConfirmed, change)
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = store.UpdateAppointmentStatus(ctx, 9999, models.StatusCancelled, change)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPendingAppointment(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	appt := newAppointment(clinic.ID, "2025-01-10", "11:00")
	appt.Status = models.StatusPending
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, appt))

	confirmed, err := store.UpdateAppointmentStatus(ctx, appt.ID, models.StatusConfirmed, models.StatusChange{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.SlotHold)
	assert.Nil(t, confirmed.CancelledAt)
}

func TestRescheduleIfSlotFree(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	ctx := context.Background()

	a := newAppointment(clinic.ID, "2025-01-10", "09:00")
	b := newAppointment(clinic.ID, "2025-01-10", "10:00")
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, a))
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, b))

	_, err := store.RescheduleIfSlotFree(ctx, a.ID, "2025-01-10", "10:00")
	assert.ErrorIs(t, err, ErrSlotTaken)

	moved, err := store.RescheduleIfSlotFree(ctx, a.ID, "2025-01-10", "11:00")
	require.NoError(t, err)
	assert.Equal(t, "11:00", moved.AppointmentTime)

	// moving onto its own slot is not a collision
	same, err := store.RescheduleIfSlotFree(ctx, a.ID, "2025-01-10", "11:00")
	require.NoError(t, err)
	assert.Equal(t, a.ID, same.ID)

	untouched, err := store.FindAppointmentByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", untouched.AppointmentTime)

	_, err = store.UpdateAppointmentStatus(ctx, b.ID, models.StatusCancelled, models.StatusChange{At: time.Now()})
	require.NoError(t, err)
	_, err = store.RescheduleIfSlotFree(ctx, b.ID, "2025-01-11", "09:00")
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = store.RescheduleIfSlotFree(ctx, 4242, "2025-01-11", "09:00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAppointmentsOnDateSkipsCancelled(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "12:00")
	other := testutil.SeedClinic(t, db, "Other", "09:00", "12:00")
	ctx := context.Background()

	keep := newAppointment(clinic.ID, "2025-01-10", "09:00")
	drop := newAppointment(clinic.ID, "2025-01-10", "09:30")
	elsewhere := newAppointment(other.ID, "2025-01-10", "10:00")
	otherDay := newAppointment(clinic.ID, "2025-01-11", "10:00")
	for _, a := range []*models.Appointment{keep, drop, elsewhere, otherDay} {
		require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, a))
	}
	_, err := store.UpdateAppointmentStatus(ctx, drop.ID, models.StatusCancelled, models.StatusChange{At: time.Now()})
	require.NoError(t, err)

	got, err := store.FindAppointmentsOnDate(ctx, clinic.ID, "2025-01-10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.ID, got[0].ID)
}

func TestFindClinicNotFound(t *testing.T) {
	store := NewGormStore(testutil.NewDB(t))
	_, err := store.FindClinic(context.Background(), 77)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindAppointmentByID(context.Background(), 77)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListClinicsFilters(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	central := testutil.SeedClinic(t, db, "Central Clinic", "09:00", "17:00")
	north := testutil.SeedClinic(t, db, "North Dental", "09:00", "17:00")
	closed := testutil.SeedClinic(t, db, "Old Clinic", "09:00", "17:00")

	// rows written before statuses were canonical
	require.NoError(t, db.Exec("UPDATE clinics SET status = ? WHERE id = ?", "open", north.ID).Error)
	require.NoError(t, db.Exec("UPDATE clinics SET status = ? WHERE id = ?", "closed", closed.ID).Error)

	active, err := store.ListClinics(ctx, ClinicFilter{Status: models.ClinicActive})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, central.ID, active[0].ID)
	assert.Equal(t, north.ID, active[1].ID)
	assert.Equal(t, models.ClinicActive, active[1].Status)

	inactive, err := store.ListClinics(ctx, ClinicFilter{Status: models.ClinicInactive})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, models.ClinicInactive, inactive[0].Status)

	byName, err := store.ListClinics(ctx, ClinicFilter{Query: "dental"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, north.ID, byName[0].ID)

	byCity, err := store.ListClinics(ctx, ClinicFilter{City: "tirana"})
	require.NoError(t, err)
	assert.Len(t, byCity, 3)
}

func TestUpsertClinicHours(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "17:00")
	ctx := context.Background()

	hours, err := store.UpsertClinicHours(ctx, clinic.ID, []models.ClinicHours{
		{DayOfWeek: 1, OpeningTime: "08:00", ClosingTime: "14:00"},
		{DayOfWeek: 3, OpeningTime: "10:00", ClosingTime: "18:00"},
	})
	require.NoError(t, err)
	assert.Len(t, hours, 2)

	stored, err := store.FindWeeklyHours(ctx, clinic.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].DayOfWeek)
	assert.Equal(t, "08:00", stored[0].OpeningTime)
	assert.Equal(t, 3, stored[1].DayOfWeek)

	_, err = store.UpsertClinicHours(ctx, clinic.ID, []models.ClinicHours{
		{DayOfWeek: 2, OpeningTime: "08:00", ClosingTime: "14:00"},
		{DayOfWeek: 2, OpeningTime: "15:00", ClosingTime: "18:00"},
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	// failed replacement leaves the previous week intact
	stored, err = store.FindWeeklyHours(ctx, clinic.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	_, err = store.UpsertClinicHours(ctx, 999, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndUpdateClinic(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	clinic := &models.Clinic{Name: "Fresh", City: "Durres", Status: "open"}
	require.NoError(t, store.CreateClinic(ctx, clinic))
	assert.Equal(t, models.ClinicActive, clinic.Status)

	clinic.Status = "closed"
	clinic.Phone = "+355 4 222 333"
	require.NoError(t, store.UpdateClinic(ctx, clinic))

	loaded, err := store.FindClinicWithHours(ctx, clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClinicInactive, loaded.Status)
	assert.Equal(t, "+355 4 222 333", loaded.Phone)
	assert.Empty(t, loaded.Hours)
}

func TestListAppointmentsAndDelete(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormStore(db)
	clinic := testutil.SeedClinic(t, db, "Central", "09:00", "17:00")
	user := testutil.SeedUser(t, db, "ana@example.com", models.RoleUser)
	ctx := context.Background()

	mine := newAppointment(clinic.ID, "2025-01-10", "09:00")
	mine.UserID = &user.ID
	guest := newAppointment(clinic.ID, "2025-01-10", "09:30")
	guest.Status = models.StatusPending
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, mine))
	require.NoError(t, store.InsertAppointmentIfSlotFree(ctx, guest))

	forUser, err := store.ListAppointmentsForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, forUser, 1)
	assert.Equal(t, mine.ID, forUser[0].ID)

	pending, err := store.ListAppointmentsForClinic(ctx, clinic.ID, AppointmentFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, guest.ID, pending[0].ID)

	all, err := store.ListAppointmentsForClinic(ctx, clinic.ID, AppointmentFilter{Date: "2025-01-10"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteAppointment(ctx, guest.ID))
	assert.ErrorIs(t, store.DeleteAppointment(ctx, guest.ID), ErrNotFound)
}
