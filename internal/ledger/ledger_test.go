package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
)

var (
	debitSQL  = `UPDATE users\s+SET credits = credits - \$1`
	addSQL    = `UPDATE users\s+SET credits = credits \+ \$1`
	selectSQL = `SELECT credits FROM users WHERE id = \$1`
	auditSQL  = `INSERT INTO credit_transactions`
)

func newLedger(t *testing.T) (*ledger.Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ledger.New(db), mock
}

func oneRow(credits int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"credits"}).AddRow(credits)
}

func TestDebit_Success(t *testing.T) {
	l, mock := newLedger(t)
	userID, projectID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(debitSQL).WithArgs(1, userID).WillReturnRows(oneRow(0))
	mock.ExpectExec(auditSQL).
		WithArgs(userID, -1, "restore", 0, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := l.Debit(context.Background(), userID, ledger.RestoreCost, ledger.ReasonRestore, projectID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_InsufficientCredits(t *testing.T) {
	l, mock := newLedger(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(debitSQL).WithArgs(3, userID).WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectQuery(selectSQL).WithArgs(userID).WillReturnRows(oneRow(2))
	mock.ExpectRollback()

	_, err := l.Debit(context.Background(), userID, ledger.VideoCost, ledger.ReasonVideo, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_UnknownUser(t *testing.T) {
	l, mock := newLedger(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(debitSQL).WithArgs(1, userID).WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectQuery(selectSQL).WithArgs(userID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := l.Debit(context.Background(), userID, 1, ledger.ReasonRestore, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	l, mock := newLedger(t)

	for _, amount := range []int{0, -3} {
		_, err := l.Debit(context.Background(), uuid.New(), amount, ledger.ReasonVideo, uuid.Nil)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefund_RecordsRefundReason(t *testing.T) {
	l, mock := newLedger(t)
	userID, projectID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(addSQL).WithArgs(3, userID).WillReturnRows(oneRow(3))
	mock.ExpectExec(auditSQL).
		WithArgs(userID, 3, "refund", 3, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := l.Refund(context.Background(), userID, ledger.VideoCost, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_DuplicateReferenceRollsBack(t *testing.T) {
	l, mock := newLedger(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(addSQL).WithArgs(10, userID).WillReturnRows(oneRow(10))
	mock.ExpectExec(auditSQL).
		WithArgs(userID, 10, "purchase", 10, nil, "order-42").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := l.Credit(context.Background(), userID, 10, ledger.ReasonPurchase, "order-42")
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_UnknownUser(t *testing.T) {
	l, mock := newLedger(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(addSQL).WithArgs(3, userID).WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectRollback()

	_, err := l.Credit(context.Background(), userID, 3, ledger.ReasonSignupBonus, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalance(t *testing.T) {
	l, mock := newLedger(t)
	userID := uuid.New()

	mock.ExpectQuery(selectSQL).WithArgs(userID).WillReturnRows(oneRow(7))
	balance, err := l.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 7, balance)

	mock.ExpectQuery(selectSQL).WithArgs(userID).WillReturnError(errors.New("connection reset"))
	_, err = l.Balance(context.Background(), userID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
