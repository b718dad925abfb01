package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/domain"
	"cartsync/internal/errors"
	"cartsync/internal/testutil"
)

func snapshotCart() *domain.Cart {
	return &domain.Cart{
		ID: "cart-1",
		Items: []domain.CartItem{
			{ID: "item-1", CartID: "cart-1", VehicleID: "veh-1", ConfigurationID: "cfg-1", Quantity: 2, UnitPrice: 35000, TotalPrice: 70000, Status: domain.ItemStatusActive},
		},
		ItemCount: 2,
		Subtotal:  70000,
		Tax:       7000,
		Total:     77000,
		UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Unit Tests

func TestNewMySQLSnapshotRepository(t *testing.T) {
	db := &sql.DB{}
	repo := NewMySQLSnapshotRepository(db)

	assert.NotNil(t, repo)
	assert.Equal(t, db, repo.db)
}

func TestMySQLSnapshotRepository_Find(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)

	payload, err := json.Marshal(snapshotCart())
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT payload\s+FROM CartSnapshots`).
		WithArgs("user:42").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	cart, err := repo.Find(context.Background(), "user:42")

	require.NoError(t, err)
	if diff := cmp.Diff(snapshotCart(), cart); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_FindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)

	mock.ExpectQuery(`SELECT payload\s+FROM CartSnapshots`).
		WithArgs("session:abc").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	cart, err := repo.Find(context.Background(), "session:abc")

	assert.Nil(t, cart)
	_, ok := errors.IsNotFoundError(err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_FindCorruptPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)

	mock.ExpectQuery(`SELECT payload\s+FROM CartSnapshots`).
		WithArgs("user:42").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("{not json")))

	_, err = repo.Find(context.Background(), "user:42")

	assert.ErrorContains(t, err, "decoding cart snapshot")
}

func TestMySQLSnapshotRepository_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)
	savedAt := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	repo.now = func() time.Time { return savedAt }

	payload, err := json.Marshal(snapshotCart())
	require.NoError(t, err)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO CartSnapshots (snapshotKey, payload, updatedAt)")).
		WithArgs("user:42", string(payload), savedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), "user:42", snapshotCart()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_SaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)

	dbErr := stderrors.New("connection reset")
	mock.ExpectExec("INSERT INTO CartSnapshots").WillReturnError(dbErr)

	err = repo.Save(context.Background(), "user:42", snapshotCart())

	assert.ErrorIs(t, err, dbErr)
	assert.ErrorContains(t, err, "saving cart snapshot")
}

func TestMySQLSnapshotRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMySQLSnapshotRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM CartSnapshots WHERE snapshotKey = ?")).
		WithArgs("user:42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "user:42"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Integration Tests

func TestMySQLSnapshotRepository_RoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.SetupTestTables(t, db)
	defer testutil.CleanupTestDB(t, db)

	repo := NewMySQLSnapshotRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "user:7", snapshotCart()))

	updated := snapshotCart()
	updated.PromotionalCode = "SAVE20"
	require.NoError(t, repo.Save(ctx, "user:7", updated))

	cart, err := repo.Find(ctx, "user:7")
	require.NoError(t, err)
	if diff := cmp.Diff(updated, cart); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, repo.Delete(ctx, "user:7"))
	_, err = repo.Find(ctx, "user:7")
	_, ok := errors.IsNotFoundError(err)
	assert.True(t, ok)
}
