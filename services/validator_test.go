package services

import (
	"testing"
	"time"

	"casefile_billing_go/config"
	"casefile_billing_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertRaw writes a row without the store's checks, the way a legacy tool
// or a hand edit would
func insertRaw(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	require.NoError(t, db.Omit(clause.Associations).Create(value).Error)
}

func TestValidateCleanStore(t *testing.T) {
	db := setupStoreTestDB(t)
	store := NewStore(db)
	cf := seedCase(t, store, "Acme", "Clean")

	start := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	stop := start.Add(90 * time.Minute)
	hrs := 1.5
	entry := &models.CaseFileEntry{CaseID: cf.CaseID, BillingStart: &start, BillingStop: &stop, BillingHrs: &hrs}
	require.NoError(t, store.CreateEntry(entry))
	_, err := DefaultDeriver().DeriveAndStore(store, entry)
	require.NoError(t, err)

	report, err := NewValidator(db, nil).Validate(nil)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Empty(t, report.Findings)
	assert.Equal(t, "validation passed: 0 errors, 0 warnings", report.Summary())
}

func TestValidateInvertedWindowSingleFinding(t *testing.T) {
	db := setupStoreTestDB(t)
	store := NewStore(db)
	cf := seedCase(t, store, "Acme", "Inverted")

	start := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	bad := &models.CaseFileEntry{CaseID: cf.CaseID, Type: models.EntryTypeBilling, BillingStart: &start, BillingStop: &stop}
	insertRaw(t, db, bad)

	report, err := NewValidator(db, nil).Validate(nil)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)

	f := report.Findings[0]
	assert.Equal(t, CheckInvertedWindow, f.Check)
	assert.Equal(t, SeverityError, f.Severity)
	assert.Equal(t, "case_file_entries", f.Table)
	assert.Equal(t, []int64{bad.EntryID}, f.Keys)
	assert.False(t, report.Passed())
}

func TestValidateChecks(t *testing.T) {
	db := setupStoreTestDB(t)
	store := NewStore(db)
	caseA := seedCase(t, store, "Acme", "A")
	caseB := seedCase(t, store, "Acme", "B")

	start := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)
	wrongHrs := 4.0

	// Entry in case A with hours that do not match its window
	entryA := &models.CaseFileEntry{CaseID: caseA.CaseID, BillingStart: &start, BillingStop: &stop, BillingHrs: &wrongHrs}
	insertRaw(t, db, entryA)

	// Entry pointing at a case that does not exist
	orphan := &models.CaseFileEntry{CaseID: 999}
	insertRaw(t, db, orphan)

	// Two billing lines for the same entry and window
	dup1 := &models.BillingEntry{CaseID: caseA.CaseID, EntryID: &entryA.EntryID, BillingStart: &start, BillingStop: &stop, BillingHours: 1}
	dup2 := &models.BillingEntry{CaseID: caseA.CaseID, EntryID: &entryA.EntryID, BillingStart: &start, BillingStop: &stop, BillingHours: 1}
	insertRaw(t, db, dup1)
	insertRaw(t, db, dup2)

	// Billing line in case B attributed to case A's entry
	cross := &models.BillingEntry{CaseID: caseB.CaseID, EntryID: &entryA.EntryID}
	insertRaw(t, db, cross)

	// Billing line for an entry that does not exist
	missingEntry := int64(4242)
	orphanBilling := &models.BillingEntry{CaseID: caseB.CaseID, EntryID: &missingEntry}
	insertRaw(t, db, orphanBilling)

	// Case file without a client
	noClient := &models.CaseFile{CaseName: "Intake"}
	insertRaw(t, db, noClient)

	// Manual lines without windows are never duplicates
	filing1 := &models.BillingEntry{CaseID: caseB.CaseID, BillingCategory: "filing"}
	filing2 := &models.BillingEntry{CaseID: caseB.CaseID, BillingCategory: "filing"}
	insertRaw(t, db, filing1)
	insertRaw(t, db, filing2)

	// Vocabulary: known values match without regard to case
	voicemail := &models.CaseFileEntry{CaseID: caseB.CaseID, Type: "voicemail"}
	insertRaw(t, db, voicemail)
	insertRaw(t, db, &models.CaseFileEntry{CaseID: caseB.CaseID, Type: "Email-Type"})
	insertRaw(t, db, &models.BillingEntry{CaseID: caseB.CaseID, BillingCategory: "legal research"})
	insertRaw(t, db, &models.BillingEntry{CaseID: caseB.CaseID, BillingCategory: models.EntryTypeMeeting})

	report, err := NewValidator(db, nil).Validate(nil)
	require.NoError(t, err)

	byCheck := make(map[string][]Finding)
	for _, f := range report.Findings {
		byCheck[f.Check] = append(byCheck[f.Check], f)
	}

	require.Len(t, byCheck[CheckOrphanEntry], 1)
	assert.Equal(t, []int64{orphan.EntryID}, byCheck[CheckOrphanEntry][0].Keys)

	require.Len(t, byCheck[CheckOrphanBilling], 1)
	assert.Equal(t, []int64{orphanBilling.BillingID}, byCheck[CheckOrphanBilling][0].Keys)

	require.Len(t, byCheck[CheckCaseWithoutClient], 1)
	assert.Equal(t, []int64{noClient.CaseID}, byCheck[CheckCaseWithoutClient][0].Keys)

	require.Len(t, byCheck[CheckDuplicateBilling], 1)
	assert.Equal(t, []int64{dup1.BillingID, dup2.BillingID}, byCheck[CheckDuplicateBilling][0].Keys)
	assert.Equal(t, SeverityWarning, byCheck[CheckDuplicateBilling][0].Severity)

	require.Len(t, byCheck[CheckCrossCaseBilling], 1)
	assert.Equal(t, []int64{cross.BillingID}, byCheck[CheckCrossCaseBilling][0].Keys)

	require.Len(t, byCheck[CheckHoursMismatch], 1)
	assert.Equal(t, []int64{entryA.EntryID}, byCheck[CheckHoursMismatch][0].Keys)

	require.Len(t, byCheck[CheckUnknownEntryType], 1)
	assert.Equal(t, []int64{voicemail.EntryID}, byCheck[CheckUnknownEntryType][0].Keys)
	assert.Equal(t, SeverityWarning, byCheck[CheckUnknownEntryType][0].Severity)

	require.Len(t, byCheck[CheckUnknownCategory], 2)
	assert.Equal(t, []int64{filing1.BillingID}, byCheck[CheckUnknownCategory][0].Keys)
	assert.Equal(t, []int64{filing2.BillingID}, byCheck[CheckUnknownCategory][1].Keys)
	assert.Equal(t, SeverityWarning, byCheck[CheckUnknownCategory][0].Severity)

	assert.Empty(t, byCheck[CheckInvertedWindow])
	assert.False(t, report.Passed())
	assert.Len(t, report.Warnings(), 5)

	t.Run("Scoped to one case", func(t *testing.T) {
		scope := caseA.CaseID
		scopedReport, err := NewValidator(db, nil).Validate(&scope)
		require.NoError(t, err)
		for _, f := range scopedReport.Findings {
			assert.NotEqual(t, CheckOrphanEntry, f.Check)
			assert.NotEqual(t, CheckCaseWithoutClient, f.Check)
			assert.NotEqual(t, CheckCrossCaseBilling, f.Check)
		}
		assert.Len(t, scopedReport.Findings, 2)
		assert.True(t, scopedReport.Passed(), "only warnings remain in case A")
	})
}

func TestValidateVocabularyWarnings(t *testing.T) {
	db := setupStoreTestDB(t)
	store := NewStore(db)
	cf := seedCase(t, store, "Acme", "Vocabulary")

	require.NoError(t, store.CreateEntry(&models.CaseFileEntry{CaseID: cf.CaseID, Type: "fax-type"}))
	require.NoError(t, store.CreateBillingEntry(&models.BillingEntry{CaseID: cf.CaseID, BillingCategory: "Expert Witness", BillingHours: 1}))

	tests := []struct {
		name       string
		types      []string
		categories []string
		expected   []string
	}{
		{name: "Built-in lists", expected: []string{CheckUnknownEntryType, CheckUnknownCategory}},
		{name: "Configured type", types: []string{"fax-type"}, expected: []string{CheckUnknownCategory}},
		{name: "Configured category", categories: []string{"Expert Witness"}, expected: []string{CheckUnknownEntryType}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.EntryTypes = tt.types
			cfg.BillingCategories = tt.categories
			deriver, err := NewDeriver(cfg)
			require.NoError(t, err)

			report, err := NewValidator(db, deriver).Validate(nil)
			require.NoError(t, err)
			var checks []string
			for _, f := range report.Findings {
				checks = append(checks, f.Check)
			}
			assert.Equal(t, tt.expected, checks)
			assert.True(t, report.Passed(), "vocabulary findings are warnings")
		})
	}
}

func TestValidateHoursFollowRoundingMode(t *testing.T) {
	db := setupStoreTestDB(t)
	store := NewStore(db)
	cf := seedCase(t, store, "Acme", "Rounding")

	start := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	stop := start.Add(61 * time.Minute)
	insertRaw(t, db, &models.CaseFileEntry{
		CaseID: cf.CaseID, Type: models.EntryTypeBilling,
		BillingStart: &start, BillingStop: &stop, BillingHrs: ptrFloat(1.1),
	})

	for mode, flagged := range map[string]bool{config.RoundingUp: false, config.RoundingNearest: true} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.BillingRounding = mode
			deriver, err := NewDeriver(cfg)
			require.NoError(t, err)

			report, err := NewValidator(db, deriver).Validate(nil)
			require.NoError(t, err)
			var mismatches int
			for _, f := range report.Findings {
				if f.Check == CheckHoursMismatch {
					mismatches++
				}
			}
			if flagged {
				assert.Equal(t, 1, mismatches)
			} else {
				assert.Zero(t, mismatches, "1.1h is what up rounding fills for 61 minutes")
			}
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	db := setupStoreTestDB(t)
	insertRaw(t, db, &models.CaseFileEntry{CaseID: 5})

	var before int64
	db.Model(&models.CaseFileEntry{}).Count(&before)

	_, err := NewValidator(db, nil).Validate(nil)
	require.NoError(t, err)

	var after int64
	db.Model(&models.CaseFileEntry{}).Count(&after)
	assert.Equal(t, before, after)
}
