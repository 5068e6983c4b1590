package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment record not found")
	ErrPaymentAlreadyExists = errors.New("payment record already exists")
)

const paymentColumns = `
	reference, order_id, active_order_key, payer_handle, description, amount_cents, currency, status,
	operator, provider_code, operator_reference, failure_reason,
	poll_attempts, next_poll_at,
	order_sync_status, order_sync_attempts, order_sync_next_at, order_sync_last_error,
	created_at, updated_at, expires_at
`

type PaymentRecordRepository struct {
	db DBTX
}

func NewPaymentRecordRepository(db DBTX) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

func (r *PaymentRecordRepository) Create(ctx context.Context, record *entity.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// active_order_key carries a unique index; a concurrent insert for the
	// same order surfaces here as a duplicate entry.
	_, err := r.db.ExecContext(ctx, query,
		record.Reference,
		record.OrderID,
		nullableStringValue(record.ActiveOrderKey),
		record.PayerHandle,
		record.Description,
		record.AmountCents,
		record.Currency,
		record.Status,
		nullableStringValue(record.Operator),
		nullableStringValue(record.ProviderCode),
		nullableStringValue(record.OperatorReference),
		nullableStringValue(record.FailureReason),
		record.PollAttempts,
		nullableTimeValue(record.NextPollAt),
		record.OrderSyncStatus,
		record.OrderSyncAttempts,
		nullableTimeValue(record.OrderSyncNextAt),
		nullableStringValue(record.OrderSyncLastErr),
		record.CreatedAt,
		record.UpdatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	return nil
}

// UpdateStatusIf is the single status mutation point. The conditional WHERE
// clause serializes concurrent transition attempts per reference: only the
// caller whose expected status still matches gets rows-affected = 1.
func (r *PaymentRecordRepository) UpdateStatusIf(ctx context.Context, record *entity.PaymentRecord, expectedStatus int32) (bool, error) {
	query := `
		UPDATE payment_records SET
			status = ?,
			active_order_key = ?,
			operator = ?,
			provider_code = ?,
			operator_reference = ?,
			failure_reason = ?,
			poll_attempts = ?,
			next_poll_at = ?,
			order_sync_status = ?,
			order_sync_attempts = ?,
			order_sync_next_at = ?,
			order_sync_last_error = ?,
			updated_at = ?
		WHERE reference = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		record.Status,
		nullableStringValue(record.ActiveOrderKey),
		nullableStringValue(record.Operator),
		nullableStringValue(record.ProviderCode),
		nullableStringValue(record.OperatorReference),
		nullableStringValue(record.FailureReason),
		record.PollAttempts,
		nullableTimeValue(record.NextPollAt),
		record.OrderSyncStatus,
		record.OrderSyncAttempts,
		nullableTimeValue(record.OrderSyncNextAt),
		nullableStringValue(record.OrderSyncLastErr),
		record.UpdatedAt,
		record.Reference,
		expectedStatus,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *PaymentRecordRepository) SchedulePoll(ctx context.Context, reference string, attempts int32, nextPollAt *time.Time, updatedAt time.Time) error {
	query := `
		UPDATE payment_records SET
			poll_attempts = ?,
			next_poll_at = ?,
			updated_at = ?
		WHERE reference = ?
	`

	_, err := r.db.ExecContext(ctx, query, attempts, nullableTimeValue(nextPollAt), updatedAt, reference)
	return err
}

func (r *PaymentRecordRepository) UpdateOrderSync(ctx context.Context, record *entity.PaymentRecord) error {
	query := `
		UPDATE payment_records SET
			order_sync_status = ?,
			order_sync_attempts = ?,
			order_sync_next_at = ?,
			order_sync_last_error = ?,
			updated_at = ?
		WHERE reference = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		record.OrderSyncStatus,
		record.OrderSyncAttempts,
		nullableTimeValue(record.OrderSyncNextAt),
		nullableStringValue(record.OrderSyncLastErr),
		record.UpdatedAt,
		record.Reference,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

func (r *PaymentRecordRepository) Delete(ctx context.Context, reference string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM payment_records WHERE reference = ?`, reference)
	return err
}

func (r *PaymentRecordRepository) FindByReference(ctx context.Context, reference string) (*entity.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE reference = ?`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, reference), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *PaymentRecordRepository) FindActiveByOrderID(ctx context.Context, orderID string) (*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE order_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, orderID, entity.PaymentStatusPending), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *PaymentRecordRepository) FindLatestByOrderID(ctx context.Context, orderID string) (*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE order_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, orderID), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

// FindByOperatorReference supports webhook payloads that only carry the
// mobile operator's own transaction id.
func (r *PaymentRecordRepository) FindByOperatorReference(ctx context.Context, operatorReference string) (*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE operator_reference = ?
		LIMIT 1
	`

	record := &entity.PaymentRecord{}
	if err := scanPaymentRecord(r.db.QueryRowContext(ctx, query, operatorReference), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

// ListDuePoll returns pending records past the webhook grace period whose
// poll schedule is due.
func (r *PaymentRecordRepository) ListDuePoll(ctx context.Context, now time.Time, createdBefore time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status = ?
		  AND created_at <= ?
		  AND (next_poll_at IS NULL OR next_poll_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`

	return r.list(ctx, query, entity.PaymentStatusPending, createdBefore, now, limit)
}

func (r *PaymentRecordRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status = ?
		  AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`

	return r.list(ctx, query, entity.PaymentStatusPending, now, limit)
}

func (r *PaymentRecordRepository) ListDueOrderSync(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE order_sync_status = ?
		  AND order_sync_next_at IS NOT NULL
		  AND order_sync_next_at <= ?
		ORDER BY order_sync_next_at ASC
		LIMIT ?
	`

	return r.list(ctx, query, entity.OrderSyncPending, now, limit)
}

// ListPurgeableTerminal returns terminal records past the retention cutoff
// whose order projection landed. Records still retrying the order update,
// and records whose retries ran out, are kept: the record is the only proof
// of the payment until the projection is reconciled.
func (r *PaymentRecordRepository) ListPurgeableTerminal(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status IN (?, ?, ?)
		  AND order_sync_status NOT IN (?, ?)
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.list(ctx, query,
		entity.PaymentStatusSuccessful,
		entity.PaymentStatusFailed,
		entity.PaymentStatusCancelled,
		entity.OrderSyncPending,
		entity.OrderSyncFailed,
		cutoff,
		limit,
	)
}

func (r *PaymentRecordRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entity.PaymentRecord, 0)
	for rows.Next() {
		item := &entity.PaymentRecord{}
		if err := scanPaymentRecord(rows, item); err != nil {
			return nil, err
		}
		records = append(records, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymentRecord(scan rowScanner, record *entity.PaymentRecord) error {
	var activeOrderKey sql.NullString
	var operator sql.NullString
	var providerCode sql.NullString
	var operatorReference sql.NullString
	var failureReason sql.NullString
	var nextPollAt sql.NullTime
	var orderSyncNextAt sql.NullTime
	var orderSyncLastErr sql.NullString

	err := scan.Scan(
		&record.Reference,
		&record.OrderID,
		&activeOrderKey,
		&record.PayerHandle,
		&record.Description,
		&record.AmountCents,
		&record.Currency,
		&record.Status,
		&operator,
		&providerCode,
		&operatorReference,
		&failureReason,
		&record.PollAttempts,
		&nextPollAt,
		&record.OrderSyncStatus,
		&record.OrderSyncAttempts,
		&orderSyncNextAt,
		&orderSyncLastErr,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		return err
	}

	record.ActiveOrderKey = stringPtrFromNull(activeOrderKey)
	record.Operator = stringPtrFromNull(operator)
	record.ProviderCode = stringPtrFromNull(providerCode)
	record.OperatorReference = stringPtrFromNull(operatorReference)
	record.FailureReason = stringPtrFromNull(failureReason)
	record.NextPollAt = timePtrFromNull(nextPollAt)
	record.OrderSyncNextAt = timePtrFromNull(orderSyncNextAt)
	record.OrderSyncLastErr = stringPtrFromNull(orderSyncLastErr)

	return nil
}
