package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyalay/institute-ops-api/internal/models"
)

type mockAttendanceRepo struct {
	records   []models.AttendanceRecord
	upserted  []models.AttendanceRecord
	bulk      []models.AttendanceRecord
	conflicts []models.AttendanceRecord
	bulkErr   error
}

func (m *mockAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	return m.records, len(m.records), nil
}

func (m *mockAttendanceRepo) GetRange(ctx context.Context, subjectID string, kind models.SubjectKind, from, to time.Time) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, rec := range m.records {
		if rec.SubjectID == subjectID && rec.SubjectKind == kind && !rec.Date.Before(from) && !rec.Date.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) GetAll(ctx context.Context, subjectID string, kind models.SubjectKind) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, rec := range m.records {
		if rec.SubjectID == subjectID && rec.SubjectKind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) GetByDate(ctx context.Context, kind models.SubjectKind, date time.Time) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, rec := range m.records {
		if rec.SubjectKind == kind && rec.Date.Equal(date) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	record.ID = "rec-1"
	m.upserted = append(m.upserted, *record)
	return record, nil
}

func (m *mockAttendanceRepo) BulkInsert(ctx context.Context, records []models.AttendanceRecord, atomic bool) ([]models.AttendanceRecord, error) {
	if m.bulkErr != nil {
		return nil, m.bulkErr
	}
	m.bulk = append(m.bulk, records...)
	return m.conflicts, nil
}

func newAttendanceService(repo *mockAttendanceRepo) *AttendanceService {
	now := func() time.Time { return time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC) }
	return NewAttendanceService(repo, nil, nil, nil, nil, now, AttendanceServiceConfig{LateCutoff: "09:15"})
}

func newCachedAttendanceService(repo *mockAttendanceRepo) (*AttendanceService, *fakeCacheRepo) {
	cacheRepo := newFakeCacheRepo()
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	now := func() time.Time { return time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC) }
	svc := NewAttendanceService(repo, cacheSvc, nil, nil, nil, now, AttendanceServiceConfig{
		LateCutoff: "09:15",
		CacheTTL:   time.Minute,
	})
	return svc, cacheRepo
}

func monthRecord(subjectID string, day int, status models.RawAttendanceStatus) models.AttendanceRecord {
	return models.AttendanceRecord{
		SubjectID:   subjectID,
		SubjectKind: models.SubjectKindStudent,
		Date:        time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		RawStatus:   status,
	}
}

func TestMarkValidation(t *testing.T) {
	svc := newAttendanceService(&mockAttendanceRepo{})

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		SubjectID:   "stu-1",
		SubjectKind: "ALIEN",
		Date:        "2026-03-16",
		Status:      "PRESENT",
	})
	assert.Error(t, err)

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{
		SubjectID:   "stu-1",
		SubjectKind: "student",
		Date:        "16/03/2026",
		Status:      "PRESENT",
	})
	assert.Error(t, err)
}

func TestMarkNormalizesAndTruncates(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newAttendanceService(repo)

	stored, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		SubjectID:   "stu-1",
		SubjectKind: "student",
		Date:        "2026-03-16",
		Status:      "present",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubjectKindStudent, stored.SubjectKind)
	assert.Equal(t, models.RawStatusPresent, stored.RawStatus)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), stored.Date)
	require.Len(t, repo.upserted, 1)
}

func TestBulkMarkRejectsDuplicateSubject(t *testing.T) {
	svc := newAttendanceService(&mockAttendanceRepo{})

	_, err := svc.BulkMark(context.Background(), BulkMarkRequest{
		SubjectKind: "STUDENT",
		Date:        "2026-03-16",
		Mode:        "partialOnError",
		Items: []BulkMarkItem{
			{SubjectID: "stu-1", Status: "PRESENT"},
			{SubjectID: "stu-1", Status: "ABSENT"},
		},
	})
	assert.Error(t, err)
}

func TestBulkMarkReportsConflictsPerItem(t *testing.T) {
	repo := &mockAttendanceRepo{
		conflicts: []models.AttendanceRecord{monthRecord("stu-2", 16, models.RawStatusPresent)},
	}
	svc := newAttendanceService(repo)

	result, err := svc.BulkMark(context.Background(), BulkMarkRequest{
		SubjectKind: "STUDENT",
		Date:        "2026-03-16",
		Mode:        "partialOnError",
		Items: []BulkMarkItem{
			{SubjectID: "stu-1", Status: "PRESENT"},
			{SubjectID: "stu-2", Status: "PRESENT"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "stu-2", result.Conflicts[0].SubjectID)
	assert.Equal(t, "already marked", result.Conflicts[0].Reason)
}

func TestMonthlyReportEndToEnd(t *testing.T) {
	// 20 marked weekdays in March 2026: 18 present, 2 absent. March 2026 has
	// five Sundays, which stay out of the denominator.
	repo := &mockAttendanceRepo{}
	day := 2 // 2026-03-02 is a Monday
	for i := 0; i < 18; i++ {
		repo.records = append(repo.records, monthRecord("stu-1", day, models.RawStatusPresent))
		day++
		if time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC).Weekday() == time.Sunday {
			day++
		}
	}
	for i := 0; i < 2; i++ {
		repo.records = append(repo.records, monthRecord("stu-1", day, models.RawStatusAbsent))
		day++
		if time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC).Weekday() == time.Sunday {
			day++
		}
	}

	svc := newAttendanceService(repo)
	report, err := svc.MonthlyReport(context.Background(), "stu-1", models.SubjectKindStudent, 2026, time.March)
	require.NoError(t, err)

	assert.Len(t, report.Days, 20)
	assert.Equal(t, 18, report.Stats.Present)
	assert.Equal(t, 2, report.Stats.Absent)
	assert.Equal(t, 0, report.Stats.Leave)
	assert.Equal(t, 5, report.Stats.Holidays)
	assert.Equal(t, 20, report.Stats.Marked)
	assert.Equal(t, 90.0, report.Stats.Percentage)
}

func TestMonthlyReportZeroRecords(t *testing.T) {
	svc := newAttendanceService(&mockAttendanceRepo{})

	report, err := svc.MonthlyReport(context.Background(), "stu-ghost", models.SubjectKindStudent, 2026, time.June)
	require.NoError(t, err)
	assert.Empty(t, report.Days)
	assert.Equal(t, 0, report.Stats.Marked)
	assert.Equal(t, 0.0, report.Stats.Percentage)
	assert.Equal(t, 4, report.Stats.Holidays)
}

func TestMonthlyReportCacheHitMatchesColdPath(t *testing.T) {
	repo := &mockAttendanceRepo{records: []models.AttendanceRecord{
		monthRecord("stu-1", 2, models.RawStatusPresent),
		monthRecord("stu-1", 3, models.RawStatusAbsent),
	}}
	svc, cacheRepo := newCachedAttendanceService(repo)

	cold, err := svc.MonthlyReport(context.Background(), "stu-1", models.SubjectKindStudent, 2026, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, cacheRepo.sets)

	// A row added without going through Mark does not invalidate; the warm
	// read must come from the cache and match the cold one exactly.
	repo.records = append(repo.records, monthRecord("stu-1", 4, models.RawStatusPresent))

	warm, err := svc.MonthlyReport(context.Background(), "stu-1", models.SubjectKindStudent, 2026, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, cacheRepo.hits)
	assert.Equal(t, cold.Stats, warm.Stats)
	assert.Len(t, warm.Days, len(cold.Days))
}

func TestMarkInvalidatesMonthlyStatsCache(t *testing.T) {
	repo := &mockAttendanceRepo{records: []models.AttendanceRecord{
		monthRecord("stu-1", 2, models.RawStatusPresent),
	}}
	svc, cacheRepo := newCachedAttendanceService(repo)

	cold, err := svc.MonthlyReport(context.Background(), "stu-1", models.SubjectKindStudent, 2026, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, cold.Stats.Marked)

	stored, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		SubjectID:   "stu-1",
		SubjectKind: "STUDENT",
		Date:        "2026-03-03",
		Status:      "ABSENT",
	})
	require.NoError(t, err)
	repo.records = append(repo.records, *stored)

	fresh, err := svc.MonthlyReport(context.Background(), "stu-1", models.SubjectKindStudent, 2026, time.March)
	require.NoError(t, err)
	// The mark dropped the cached month, so the new row is visible.
	assert.Equal(t, 0, cacheRepo.hits)
	assert.Equal(t, 2, cacheRepo.sets)
	assert.Equal(t, 2, fresh.Stats.Marked)
	assert.Equal(t, 1, fresh.Stats.Absent)
}

func TestMonthlyReportValidatesInput(t *testing.T) {
	svc := newAttendanceService(&mockAttendanceRepo{})

	_, err := svc.MonthlyReport(context.Background(), "", models.SubjectKindStudent, 2026, time.March)
	assert.Error(t, err)

	_, err = svc.MonthlyReport(context.Background(), "stu-1", "ALIEN", 2026, time.March)
	assert.Error(t, err)
}

func TestAllTimeStatsHasNoHolidayCount(t *testing.T) {
	repo := &mockAttendanceRepo{records: []models.AttendanceRecord{
		monthRecord("stu-1", 2, models.RawStatusPresent),
		monthRecord("stu-1", 3, models.RawStatusAbsent),
	}}
	svc := newAttendanceService(repo)

	stats, err := svc.AllTimeStats(context.Background(), "stu-1", models.SubjectKindStudent)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Holidays)
	assert.Equal(t, 2, stats.Marked)
	assert.Equal(t, 50.0, stats.Percentage)
}

func TestDailySheetClassifiesEachSubject(t *testing.T) {
	late := "09:40"
	repo := &mockAttendanceRepo{records: []models.AttendanceRecord{
		monthRecord("stu-1", 16, models.RawStatusPresent),
		{
			SubjectID:   "stu-2",
			SubjectKind: models.SubjectKindStudent,
			Date:        time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			RawStatus:   models.RawStatusPresent,
			CheckIn:     &late,
		},
	}}
	svc := newAttendanceService(repo)

	days, bySubject, err := svc.DailySheet(context.Background(), models.SubjectKindStudent, time.Time{})
	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.Equal(t, models.DayStatusPresent, bySubject["stu-1"].Status)
	assert.Equal(t, models.DayStatusLate, bySubject["stu-2"].Status)
}
