// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/notcolumbus/dime/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrTransactionNotFound возвращается, если транзакция с указанным идентификатором не существует.
var ErrTransactionNotFound = errors.New("transaction not found")

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const txColumns = `id, user_id, datetime, total_amount, merchant_id, merchant_name,
	description, payment_method, card_id, spend_category, points_earned`

// PostgresRepository предоставляет доступ к хранилищу транзакций в PostgreSQL.
// Пул соединений безопасен для конкурентного использования воркерами обогащения.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках: serialization failure,
// deadlock, обрыв соединения. Остальные ошибки возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Datetime, &t.TotalAmount, &t.MerchantID, &t.MerchantName,
		&t.Description, &t.PaymentMethod, &t.CardID, &t.SpendCategory, &t.PointsEarned,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SelectUncategorized возвращает транзакции без категории, опционально ограниченные пользователем.
// Уже категоризированные строки не попадают в выборку, что делает массовый прогон идемпотентным.
func (r *PostgresRepository) SelectUncategorized(ctx context.Context, userID *string) ([]model.Transaction, error) {
	qb := psql.Select(txColumns).
		From("transactions").
		Where(squirrel.Eq{"spend_category": nil}).
		OrderBy("datetime")

	if userID != nil {
		qb = qb.Where(squirrel.Eq{"user_id": *userID})
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select uncategorized: %w", err)
	}

	return collectTransactions(rows)
}

// WriteCategory записывает категорию транзакции. Одиночный UPDATE атомарен:
// строка либо получает категорию целиком, либо остаётся нетронутой.
func (r *PostgresRepository) WriteCategory(ctx context.Context, txID, category string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE transactions SET spend_category = $2 WHERE id = $1`,
			txID, category,
		)
		if err != nil {
			return fmt.Errorf("write category: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}
		return nil
	})
}

// WritePoints записывает вычисленные баллы транзакции.
func (r *PostgresRepository) WritePoints(ctx context.Context, txID string, points int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE transactions SET points_earned = $2 WHERE id = $1`,
			txID, points,
		)
		if err != nil {
			return fmt.Errorf("write points: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}
		return nil
	})
}

// GetTransaction возвращает транзакцию по идентификатору.
func (r *PostgresRepository) GetTransaction(ctx context.Context, txID string) (*model.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`,
		txID,
	)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return t, nil
}

// GetTransactions возвращает транзакции пользователя с опциональным фильтром по мерчанту.
func (r *PostgresRepository) GetTransactions(ctx context.Context, userID string, merchantID *int64, limit int) ([]model.Transaction, error) {
	qb := psql.Select(txColumns).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("datetime DESC").
		Limit(uint64(limit))

	if merchantID != nil {
		qb = qb.Where(squirrel.Eq{"merchant_id": *merchantID})
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}

	return collectTransactions(rows)
}

// SelectRecalculable возвращает транзакции, для которых можно пересчитать баллы (известна карта).
func (r *PostgresRepository) SelectRecalculable(ctx context.Context) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE card_id IS NOT NULL ORDER BY datetime`,
	)
	if err != nil {
		return nil, fmt.Errorf("select recalculable: %w", err)
	}

	return collectTransactions(rows)
}

// BackfillPaymentMethods заполняет пустой payment_method по сырым данным мерчанта
// и описания. Возвращает число обновлённых строк.
func (r *PostgresRepository) BackfillPaymentMethods(ctx context.Context) (int64, error) {
	var updated int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE transactions
			 SET payment_method = CASE
			     WHEN lower(description) LIKE '%paypal%' OR lower(merchant_name) LIKE '%paypal%' THEN 'paypal'
			     ELSE 'credit_card'
			 END
			 WHERE payment_method = ''`,
		)
		if err != nil {
			return fmt.Errorf("backfill payment methods: %w", err)
		}
		updated = cmdTag.RowsAffected()
		return nil
	})
	return updated, err
}

// CategoryBreakdown возвращает агрегаты трат по категориям за окно в days дней.
// Строки без категории попадают в явную корзину "uncategorized".
func (r *PostgresRepository) CategoryBreakdown(ctx context.Context, userID string, days int) ([]model.CategorySpend, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
		     COALESCE(spend_category, 'uncategorized') AS category,
		     COUNT(*) AS transaction_count,
		     COALESCE(SUM(total_amount), 0) AS total_spent,
		     COALESCE(SUM(points_earned), 0) AS total_points
		 FROM transactions
		 WHERE user_id = $1
		   AND datetime >= now() - ($2 * interval '1 day')
		 GROUP BY COALESCE(spend_category, 'uncategorized')
		 ORDER BY total_spent DESC`,
		userID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("select category breakdown: %w", err)
	}
	defer rows.Close()

	var res []model.CategorySpend
	for rows.Next() {
		var cs model.CategorySpend
		if err := rows.Scan(&cs.Category, &cs.TransactionCount, &cs.TotalSpent, &cs.TotalPoints); err != nil {
			return nil, fmt.Errorf("scan category spend: %w", err)
		}
		res = append(res, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Cashflow возвращает суммарные притоки и оттоки за окно в days дней.
// Положительные суммы считаются тратами, отрицательные — поступлениями.
func (r *PostgresRepository) Cashflow(ctx context.Context, userID string, days int) (model.Cashflow, error) {
	var inflow, outflow decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN total_amount < 0 THEN -total_amount ELSE 0 END), 0) AS inflow,
		     COALESCE(SUM(CASE WHEN total_amount > 0 THEN total_amount ELSE 0 END), 0) AS outflow
		 FROM transactions
		 WHERE user_id = $1
		   AND datetime >= now() - ($2 * interval '1 day')`,
		userID, days,
	).Scan(&inflow, &outflow)
	if err != nil {
		return model.Cashflow{}, fmt.Errorf("select cashflow: %w", err)
	}

	return model.Cashflow{
		Inflow:  inflow,
		Outflow: outflow,
		Net:     inflow.Sub(outflow),
	}, nil
}

// MonthlyTotals возвращает суммарные траты по календарным месяцам за последние months месяцев,
// от старых к новым.
func (r *PostgresRepository) MonthlyTotals(ctx context.Context, userID string, months int) ([]model.TrendPoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
		     date_trunc('month', datetime) AS month,
		     COALESCE(SUM(total_amount), 0) AS total_spent
		 FROM transactions
		 WHERE user_id = $1
		   AND datetime >= now() - ($2 * interval '1 month')
		 GROUP BY date_trunc('month', datetime)
		 ORDER BY month ASC`,
		userID, months,
	)
	if err != nil {
		return nil, fmt.Errorf("select monthly totals: %w", err)
	}
	defer rows.Close()

	var res []model.TrendPoint
	for rows.Next() {
		var (
			month  time.Time
			amount decimal.Decimal
		)
		if err := rows.Scan(&month, &amount); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		res = append(res, model.TrendPoint{
			Month:  month.Format("Jan"),
			Amount: amount,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Merchants возвращает способы оплаты, встречавшиеся у каждого мерчанта пользователя.
func (r *PostgresRepository) Merchants(ctx context.Context, userID string) ([]model.MerchantMethods, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
		     merchant_id,
		     MAX(merchant_name) AS merchant_name,
		     array_agg(DISTINCT payment_method) FILTER (WHERE payment_method <> '') AS payment_methods
		 FROM transactions
		 WHERE user_id = $1
		 GROUP BY merchant_id
		 ORDER BY merchant_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select merchants: %w", err)
	}
	defer rows.Close()

	var res []model.MerchantMethods
	for rows.Next() {
		var (
			m       model.MerchantMethods
			methods []string
		)
		if err := rows.Scan(&m.MerchantID, &m.MerchantName, &methods); err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		m.PaymentMethods = methods
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
