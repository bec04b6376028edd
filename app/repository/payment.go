package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/contratai/ms-go-payments/app/entity"
)

var (
	ErrPaymentNotFound               = errors.New("payment not found")
	ErrDuplicateExternalTransaction  = errors.New("external transaction id already exists")
	ErrExternalTransactionIDConflict = errors.New("external transaction id is already set")
)

type PaymentFilter struct {
	BuyerID    uint64
	ContractID uint64
	Status     entity.Status
	Method     entity.Method
	From       *time.Time
	To         *time.Time
	Limit      int32
	Offset     int32
}

type PaymentRepository struct {
	db DB
}

func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, contract_id, buyer_id, provider_id, amount, method, external_transaction_id,
	contract_sync_status, contract_sync_target, contract_sync_attempts, contract_sync_next_at, contract_sync_last_error,
	created_at, updated_at
`

// Create persists the payment together with its initial status entry in one
// transaction so a stored payment never has an empty history.
func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment, initial *entity.StatusEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			contract_id, buyer_id, provider_id, amount, method, external_transaction_id,
			contract_sync_status, contract_sync_target, contract_sync_attempts, contract_sync_next_at, contract_sync_last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		payment.ContractID,
		payment.BuyerID,
		payment.ProviderID,
		payment.Amount,
		string(payment.Method),
		nullableStringValue(payment.ExternalTransactionID),
		payment.ContractSyncStatus,
		nullableStringValue(payment.ContractSyncTarget),
		payment.ContractSyncAttempts,
		nullableTimeValue(payment.ContractSyncNextAt),
		nullableStringValue(payment.ContractSyncLastErr),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateExternalTransaction
		}
		return err
	}

	paymentID, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(paymentID)
	initial.PaymentID = payment.ID

	if err := insertStatusEntry(ctx, tx, initial); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	payment.History = append(payment.History, *initial)
	return nil
}

// AppendEntry is a single insert: the append itself is atomic at the storage
// layer even though callers are not serialized against each other.
func (r *PaymentRepository) AppendEntry(ctx context.Context, entry *entity.StatusEntry) error {
	if err := insertStatusEntry(ctx, r.db, entry); err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `UPDATE payments SET updated_at = ? WHERE id = ?`, entry.CreatedAt, entry.PaymentID)
	return nil
}

// SetExternalTransactionID sets the id exactly once. Re-setting the same
// value is a no-op; any other change is a conflict.
func (r *PaymentRepository) SetExternalTransactionID(ctx context.Context, paymentID uint64, transactionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET external_transaction_id = ?, updated_at = ?
		WHERE id = ? AND external_transaction_id IS NULL
	`, transactionID, time.Now().UTC(), paymentID)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateExternalTransaction
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPaymentNotFound
	}
	if existing.ExternalTransactionID != nil && *existing.ExternalTransactionID == transactionID {
		return nil
	}
	return ErrExternalTransactionIDConflict
}

func (r *PaymentRepository) UpdateContractSync(ctx context.Context, payment *entity.Payment) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET
			contract_sync_status = ?,
			contract_sync_target = ?,
			contract_sync_attempts = ?,
			contract_sync_next_at = ?,
			contract_sync_last_error = ?,
			updated_at = ?
		WHERE id = ?
	`,
		payment.ContractSyncStatus,
		nullableStringValue(payment.ContractSyncTarget),
		payment.ContractSyncAttempts,
		nullableTimeValue(payment.ContractSyncNextAt),
		nullableStringValue(payment.ContractSyncLastErr),
		time.Now().UTC(),
		payment.ID,
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

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT` + paymentColumns + `FROM payments WHERE id = ?`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *PaymentRepository) FindByExternalTransactionID(ctx context.Context, transactionID string) (*entity.Payment, error) {
	query := `SELECT` + paymentColumns + `FROM payments WHERE external_transaction_id = ? LIMIT 1`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, transactionID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *PaymentRepository) ListByContract(ctx context.Context, contractID uint64) ([]*entity.Payment, error) {
	query := `SELECT` + paymentColumns + `FROM payments WHERE contract_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments, err := collectPayments(rows)
	if err != nil {
		return nil, err
	}
	return r.loadHistories(ctx, payments)
}

func (r *PaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]*entity.Payment, error) {
	query := `
		SELECT p.id, p.contract_id, p.buyer_id, p.provider_id, p.amount, p.method, p.external_transaction_id,
			p.contract_sync_status, p.contract_sync_target, p.contract_sync_attempts, p.contract_sync_next_at, p.contract_sync_last_error,
			p.created_at, p.updated_at
		FROM payments p`

	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 7)

	if filter.Status != "" {
		query += `
			JOIN payment_status_entries last_entry ON last_entry.payment_id = p.id
				AND last_entry.id = (SELECT MAX(id) FROM payment_status_entries WHERE payment_id = p.id)
		`
		conditions = append(conditions, "last_entry.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BuyerID > 0 {
		conditions = append(conditions, "p.buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if filter.ContractID > 0 {
		conditions = append(conditions, "p.contract_id = ?")
		args = append(args, filter.ContractID)
	}
	if filter.Method != "" {
		conditions = append(conditions, "p.method = ?")
		args = append(args, string(filter.Method))
	}
	if filter.From != nil {
		conditions = append(conditions, "p.created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, "p.created_at <= ?")
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY p.id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments, err := collectPayments(rows)
	if err != nil {
		return nil, err
	}
	return r.loadHistories(ctx, payments)
}

func (r *PaymentRepository) ListDueContractSync(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT` + paymentColumns + `
		FROM payments
		WHERE contract_sync_status = ?
		  AND contract_sync_next_at IS NOT NULL
		  AND contract_sync_next_at <= ?
		ORDER BY contract_sync_next_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.ContractSyncPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments, err := collectPayments(rows)
	if err != nil {
		return nil, err
	}
	return r.loadHistories(ctx, payments)
}

func (r *PaymentRepository) loadHistory(ctx context.Context, payment *entity.Payment) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, status, reason, metadata_json, created_at
		FROM payment_status_entries
		WHERE payment_id = ?
		ORDER BY id ASC
	`, payment.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	history := make([]entity.StatusEntry, 0, 4)
	for rows.Next() {
		var item entity.StatusEntry
		var reason sql.NullString
		var metadataJSON string
		if err := rows.Scan(&item.ID, &item.PaymentID, &item.Status, &reason, &metadataJSON, &item.CreatedAt); err != nil {
			return err
		}
		item.Reason = stringPtrFromNull(reason)
		metadata, err := parseMetadata(metadataJSON)
		if err != nil {
			return err
		}
		item.Metadata = metadata
		history = append(history, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	payment.History = history
	return nil
}

func (r *PaymentRepository) loadHistories(ctx context.Context, payments []*entity.Payment) ([]*entity.Payment, error) {
	for _, payment := range payments {
		if err := r.loadHistory(ctx, payment); err != nil {
			return nil, err
		}
	}
	return payments, nil
}

func insertStatusEntry(ctx context.Context, db DBTX, entry *entity.StatusEntry) error {
	metadataJSON, err := serializeMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO payment_status_entries (payment_id, status, reason, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		entry.PaymentID,
		string(entry.Status),
		nullableStringValue(entry.Reason),
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var method string
	var externalTransactionID sql.NullString
	var syncTarget sql.NullString
	var syncNextAt sql.NullTime
	var syncLastErr sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.ContractID,
		&payment.BuyerID,
		&payment.ProviderID,
		&payment.Amount,
		&method,
		&externalTransactionID,
		&payment.ContractSyncStatus,
		&syncTarget,
		&payment.ContractSyncAttempts,
		&syncNextAt,
		&syncLastErr,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.Method = entity.Method(method)
	payment.ExternalTransactionID = stringPtrFromNull(externalTransactionID)
	payment.ContractSyncTarget = stringPtrFromNull(syncTarget)
	payment.ContractSyncNextAt = timePtrFromNull(syncNextAt)
	payment.ContractSyncLastErr = stringPtrFromNull(syncLastErr)

	return nil
}

func collectPayments(rows *sql.Rows) ([]*entity.Payment, error) {
	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}
