package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"madridtracker/server/internal/models"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func seedListing(t *testing.T, db *Database, l models.Listing) {
	t.Helper()
	if l.Status == "" {
		l.Status = models.StatusActive
	}
	require.NoError(t, db.GetDB().Create(&l).Error)
}

func seedEntry(t *testing.T, db *Database, e models.PriceHistoryEntry) {
	t.Helper()
	require.NoError(t, db.GetDB().Create(&e).Error)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"db/madrid.db?_journal_mode=WAL&_busy_timeout=30000&_synchronous=NORMAL&_foreign_keys=on",
		sqliteDSN("db/madrid.db", 0))
	assert.Equal(t,
		"file:x.db?cache=shared&_journal_mode=WAL&_busy_timeout=500&_synchronous=NORMAL&_foreign_keys=on",
		sqliteDSN("file:x.db?cache=shared", 500))
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, DriverPostgres, driverFor("postgres://u@localhost/db"))
	assert.Equal(t, DriverPostgres, driverFor("postgresql://u@localhost/db"))
	assert.Equal(t, DriverSQLite, driverFor("database/madrid.db"))
}

func TestNewDatabase_UsesWAL(t *testing.T) {
	db := NewTestDB(t)
	var mode string
	require.NoError(t, db.GetDB().Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"sqlite busy", fmt.Errorf("failed to insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, true},
		{"postgres deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"postgres unique violation", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestWriter_InsertListingDuplicate(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	l := models.Listing{ListingID: "L1", Price: 300000, FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01", Status: models.StatusActive}

	err := db.WriteTx(ctx, func(w *Writer) error {
		inserted, err := w.InsertListing(&l)
		require.NoError(t, err)
		assert.True(t, inserted)

		again := l
		again.Price = 1
		inserted, err = w.InsertListing(&again)
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	})
	require.NoError(t, err)

	got, err := db.GetListing(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 300000, got.Price)
}

func TestWriter_RollbackOnError(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	err := db.WriteTx(ctx, func(w *Writer) error {
		_, err := w.InsertListing(&models.Listing{ListingID: "L1", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01", Status: models.StatusActive})
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = db.GetListing(ctx, "L1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriter_UpdateObservedNeverMovesLastSeenBeforeFirstSeen(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "L1", Price: 100, Description: "kept", FirstSeenDate: "2026-03-10", LastSeenDate: "2026-03-10"})

	err := db.WriteTx(ctx, func(w *Writer) error {
		return w.UpdateObserved(models.Observation{ListingID: "L1", Price: 200, Title: "new", Rooms: intPtr(3)}, "2026-03-01")
	})
	require.NoError(t, err)

	got, err := db.GetListing(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Price)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, "kept", got.Description)
	require.NotNil(t, got.Rooms)
	assert.Equal(t, 3, *got.Rooms)
	assert.Equal(t, "2026-03-10", got.LastSeenDate)
}

func TestWriter_Reactivate(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "L1", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-05", Status: models.StatusSoldRemoved})
	seedListing(t, db, models.Listing{ListingID: "L2", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-05", Status: models.StatusSoldRemoved})

	err := db.WriteTx(ctx, func(w *Writer) error {
		status, err := w.ListingStatus("L1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSoldRemoved, status)

		_, err = w.ListingStatus("missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, w.Reactivate(models.Observation{ListingID: "L1", Price: 10}, "2026-02-01", false))
		return w.Reactivate(models.Observation{ListingID: "L2", Price: 10}, "2026-02-01", true)
	})
	require.NoError(t, err)

	l1, err := db.GetListing(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, l1.Status)
	assert.Equal(t, "2026-01-01", l1.FirstSeenDate)
	assert.Equal(t, "2026-02-01", l1.LastSeenDate)

	l2, err := db.GetListing(ctx, "L2")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", l2.FirstSeenDate)
	assert.Equal(t, "2026-02-01", l2.LastSeenDate)
}

func TestWriter_LatestPrice(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "L1", Price: 100, DateRecorded: "2026-01-01"})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "L1", Price: 90, DateRecorded: "2026-01-03"})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "L1", Price: 95, DateRecorded: "2026-01-03"})

	err := db.WriteTx(ctx, func(w *Writer) error {
		p, err := w.LatestPrice("L1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 95, *p)

		p, err = w.LatestPrice("L2")
		require.NoError(t, err)
		assert.Nil(t, p)
		return nil
	})
	require.NoError(t, err)
}

func TestGetListings_Filters(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "A", Price: 200000, Distrito: "Centro", SellerType: models.SellerParticular})
	seedListing(t, db, models.Listing{ListingID: "B", Price: 400000, Distrito: "Retiro", SellerType: models.SellerAgencia})
	seedListing(t, db, models.Listing{ListingID: "C", Price: 300000, Distrito: "Centro", SellerType: models.SellerAgencia, Status: models.StatusSoldRemoved})

	ids := func(ls []models.Listing) []string {
		out := []string{}
		for _, l := range ls {
			out = append(out, l.ListingID)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   models.ListingFilter
		expected []string
	}{
		{"No filters", models.ListingFilter{}, []string{"A", "B", "C"}},
		{"Status", models.ListingFilter{Status: models.StatusActive}, []string{"A", "B"}},
		{"Zones", models.ListingFilter{Zones: []string{"Centro"}}, []string{"A", "C"}},
		{"Price range", models.ListingFilter{MinPrice: intPtr(250000), MaxPrice: intPtr(400000)}, []string{"B", "C"}},
		{"Seller all", models.ListingFilter{SellerType: models.SellerTypeAll}, []string{"A", "B", "C"}},
		{"Combined", models.ListingFilter{Status: models.StatusActive, Zones: []string{"Centro"}, SellerType: models.SellerAgencia}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.GetListings(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(got))
		})
	}
}

func TestMarkStale(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "edge", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-03"})
	seedListing(t, db, models.Listing{ListingID: "old", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-02"})
	seedListing(t, db, models.Listing{ListingID: "gone", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01", Status: models.StatusSoldRemoved})

	n, err := db.MarkStale(ctx, "2026-01-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := db.ActiveListingIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"edge"}, ids)
}

func TestMigrations_BackfillInitialHistory(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "A", Price: 100, FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01"})
	seedListing(t, db, models.Listing{ListingID: "B", Price: 0, FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01"})
	seedListing(t, db, models.Listing{ListingID: "C", Price: 100, FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-01", Status: models.StatusSoldRemoved})

	require.NoError(t, db.RunMigrations())
	require.NoError(t, db.RunMigrations())

	history, err := db.PriceHistory(ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2026-01-01", history[0].DateRecorded)
	assert.Nil(t, history[0].ChangeAmount)

	for _, id := range []string{"B", "C"} {
		history, err := db.PriceHistory(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestListingsWithMinDrops(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "A", Price: 80})
	seedListing(t, db, models.Listing{ListingID: "B", Price: 90})
	seedListing(t, db, models.Listing{ListingID: "S", Price: 80, Status: models.StatusSoldRemoved})

	for _, id := range []string{"A", "S"} {
		seedEntry(t, db, models.PriceHistoryEntry{ListingID: id, Price: 100, DateRecorded: "2026-01-01"})
		seedEntry(t, db, models.PriceHistoryEntry{ListingID: id, Price: 90, DateRecorded: "2026-01-02", ChangeAmount: intPtr(-10), ChangePercent: floatPtr(-10)})
		seedEntry(t, db, models.PriceHistoryEntry{ListingID: id, Price: 80, DateRecorded: "2026-01-03", ChangeAmount: intPtr(-10), ChangePercent: floatPtr(-11.11)})
	}
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "B", Price: 100, DateRecorded: "2026-01-01"})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "B", Price: 90, DateRecorded: "2026-01-02", ChangeAmount: intPtr(-10), ChangePercent: floatPtr(-10)})

	listings, histories, err := db.ListingsWithMinDrops(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "A", listings[0].ListingID)
	require.Len(t, histories["A"], 3)
	assert.Equal(t, 100, histories["A"][0].Price)
	assert.Equal(t, 80, histories["A"][2].Price)
}

func TestHistorySummary(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	empty, err := db.HistorySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HistorySummary{}, empty)

	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "A", Price: 100, DateRecorded: "2026-01-01"})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "A", Price: 90, DateRecorded: "2026-01-02", ChangeAmount: intPtr(-10), ChangePercent: floatPtr(-10)})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "B", Price: 100, DateRecorded: "2026-01-01"})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "B", Price: 80, DateRecorded: "2026-01-02", ChangeAmount: intPtr(-20), ChangePercent: floatPtr(-20)})
	seedEntry(t, db, models.PriceHistoryEntry{ListingID: "B", Price: 84, DateRecorded: "2026-01-03", ChangeAmount: intPtr(4), ChangePercent: floatPtr(5)})

	summary, err := db.HistorySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HistorySummary{
		TotalRecords:          5,
		PropertiesWithChanges: 2,
		TotalChanges:          3,
		PriceDrops:            2,
		PriceIncreases:        1,
		AvgDropPercent:        -15,
		AvgIncreasePercent:    5,
	}, summary)
}

func TestGetDatabaseStats(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedListing(t, db, models.Listing{ListingID: "A", Price: 200000, SizeSqm: floatPtr(50)})
	seedListing(t, db, models.Listing{ListingID: "B", Price: 400000, SizeSqm: floatPtr(100)})
	seedListing(t, db, models.Listing{ListingID: "C", Price: 0})
	seedListing(t, db, models.Listing{ListingID: "D", Price: 900000, Status: models.StatusSoldRemoved})

	stats, err := db.GetDatabaseStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DatabaseStats{ActiveCount: 3, SoldCount: 1, AvgPrice: 300000, AvgPricePerArea: 4000}, stats)
}

func TestGetPriceTrendsByZone(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	_, err := db.GetPriceTrendsByZone(ctx, "price; DROP TABLE listings", 1)
	assert.ErrorIs(t, err, ErrInvalidZoneType)

	trends, err := db.GetPriceTrendsByZone(ctx, "distrito", 1)
	require.NoError(t, err)
	assert.Empty(t, trends)

	// first seen on the earliest date, still active on the latest date
	seedListing(t, db, models.Listing{ListingID: "A1", Price: 100000, Distrito: "Centro", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-10"})
	seedListing(t, db, models.Listing{ListingID: "A2", Price: 200000, Distrito: "Centro", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-05"})
	seedListing(t, db, models.Listing{ListingID: "A3", Price: 50000, Distrito: "Centro", FirstSeenDate: "2026-01-04", LastSeenDate: "2026-01-10"})
	// flat zone is filtered out as noise
	seedListing(t, db, models.Listing{ListingID: "B1", Price: 300000, Distrito: "Retiro", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-10"})
	// rising zone
	seedListing(t, db, models.Listing{ListingID: "C1", Price: 100000, Distrito: "Usera", FirstSeenDate: "2026-01-01", LastSeenDate: "2026-01-02"})
	seedListing(t, db, models.Listing{ListingID: "C2", Price: 120000, Distrito: "Usera", FirstSeenDate: "2026-01-03", LastSeenDate: "2026-01-10"})

	trends, err = db.GetPriceTrendsByZone(ctx, "distrito", 1)
	require.NoError(t, err)
	require.Len(t, trends, 2)

	assert.Equal(t, models.ZoneTrend{
		Zone:           "Centro",
		EarliestDate:   "2026-01-01",
		LatestDate:     "2026-01-10",
		FirstAvgPrice:  150000,
		LastAvgPrice:   75000,
		PropertyCount:  2,
		PriceChange:    -75000,
		PriceChangePct: -50,
	}, trends[0])

	assert.Equal(t, "Usera", trends[1].Zone)
	assert.Equal(t, 20.0, trends[1].PriceChangePct)
	assert.Equal(t, 1, trends[1].PropertyCount)
}
