package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/metrics"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentColumns = `id, order_id, transaction_id, user_id, course_id, status, amount, currency, payment_method,
  purchase_date, expiry_date, is_active, gateway_metadata, created_at, updated_at`

type paymentRepo struct {
	db    querier
	table string
}

// NewPaymentRepo returns the ledger store over tableName (default "payments").
func NewPaymentRepo(db querier, tableName string) *paymentRepo {
	if tableName == "" {
		tableName = "payments"
	}
	return &paymentRepo{db: db, table: table(tableName)}
}

func (r *paymentRepo) Save(ctx context.Context, p *model.PaymentRecord) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidArgument
	}
	meta, err := marshalMeta(p.GatewayMetadata)
	if err != nil {
		return err
	}
	q := `INSERT INTO ` + r.table + ` (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`
	_, err = r.db.Exec(ctx, q,
		p.ID, p.OrderID, p.TransactionID, p.UserID, p.CourseID, string(p.Status), p.Amount, p.Currency, p.PaymentMethod,
		p.PurchaseDate, p.ExpiryDate, p.IsActive, meta, p.CreatedAt, p.UpdatedAt)
	metrics.IncDBQuery("ledger", "put", err)
	return mapErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM ` + r.table + ` WHERE id=$1;`
	p, err := scanPayment(r.db.QueryRow(ctx, q, id))
	metrics.IncDBQuery("ledger", "get", ignoreNotFound(err))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM ` + r.table + ` WHERE user_id=$1 ORDER BY created_at, id;`
	return r.list(ctx, "query_user", q, userID)
}

func (r *paymentRepo) ListByOrderID(ctx context.Context, orderID string) ([]*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM ` + r.table + ` WHERE order_id=$1 ORDER BY created_at, id;`
	return r.list(ctx, "query_order", q, orderID)
}

func (r *paymentRepo) FindByTransactionID(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM ` + r.table + `
WHERE transaction_id=$1 ORDER BY updated_at DESC, id DESC LIMIT 1;`
	p, err := scanPayment(r.db.QueryRow(ctx, q, transactionID))
	metrics.IncDBQuery("ledger", "query_transaction", ignoreNotFound(err))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *paymentRepo) Scan(ctx context.Context, filter model.PaymentFilter) ([]*model.PaymentRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	q := `SELECT ` + paymentColumns + ` FROM ` + r.table
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY user_id, created_at, id;`
	return r.list(ctx, "scan", q, args...)
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, id string, upd model.PaymentUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, upd.Status)
	}
	meta, err := marshalMeta(upd.Meta)
	if err != nil {
		return err
	}
	q := `UPDATE ` + r.table + `
   SET status=$2,
       is_active=$3,
       purchase_date=COALESCE($4, purchase_date),
       expiry_date=COALESCE($5, expiry_date),
       gateway_metadata=COALESCE(gateway_metadata, '{}'::jsonb) || $6::jsonb,
       updated_at=$7
 WHERE id=$1;`
	cmd, err := r.db.Exec(ctx, q, id, string(upd.Status), upd.IsActive,
		optionalTime(upd.PurchaseDate), optionalTime(upd.ExpiryDate), meta, time.Now().UTC())
	metrics.IncDBQuery("ledger", "update", err)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) list(ctx context.Context, op, q string, args ...interface{}) ([]*model.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		metrics.IncDBQuery("ledger", op, err)
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			metrics.IncDBQuery("ledger", op, err)
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	err = rows.Err()
	metrics.IncDBQuery("ledger", op, err)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		p      model.PaymentRecord
		status string
		meta   []byte
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.UserID, &p.CourseID, &status, &p.Amount, &p.Currency,
		&p.PaymentMethod, &p.PurchaseDate, &p.ExpiryDate, &p.IsActive, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.GatewayMetadata); err != nil {
			return nil, fmt.Errorf("decode gateway_metadata of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway metadata: %v", domain.ErrInvalidArgument, err)
	}
	return b, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ignoreNotFound keeps expected misses out of the error counters.
func ignoreNotFound(err error) error {
	if err == pgx.ErrNoRows {
		return nil
	}
	return err
}
