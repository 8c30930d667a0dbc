package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"consignsystem/pkg/cutoff"
)

// MySQL 方言下的 SQL 形态校验
func newMockMySQL(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestInstallmentRepository_SumOpenInPeriod_MySQL(t *testing.T) {
	db, mock := newMockMySQL(t)
	repo := NewInstallmentRepository(db)
	period := cutoff.Period{Month: time.December, Year: 2026}

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(installment\\.value\\), 0\\) FROM `installment` "+
		"JOIN consignment ON consignment\\.id = installment\\.consignment_id "+
		"WHERE \\(consignment\\.beneficiary_id = \\? AND consignment\\.active = \\? AND consignment\\.canceled = \\?\\) "+
		"AND installment\\.discharged_at IS NULL "+
		"AND \\(installment\\.due_date >= \\? AND installment\\.due_date < \\?\\)").
		WithArgs(int64(42), true, false,
			time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("733.40"))

	total, err := repo.SumOpenInPeriod(context.Background(), nil, 42, period)
	require.NoError(t, err)
	assert.Equal(t, "733.4", total.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsignmentRepository_NextNumber_MySQL(t *testing.T) {
	db, mock := newMockMySQL(t)
	repo := NewConsignmentRepository(db)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(number\\), 0\\) FROM `consignment` WHERE beneficiary_id = \\?").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))

	n, err := repo.NextNumber(context.Background(), nil, 42)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
