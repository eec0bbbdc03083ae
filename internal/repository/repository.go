// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a scored transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	var device []byte
	if tx.Device != nil {
		device, _ = json.Marshal(tx.Device)
	}

	payeeIsNew := 0
	if tx.PayeeIsNew {
		payeeIsNew = 1
	}

	query := `
		INSERT INTO transactions (
			id, tx_type, payer_id, payee_id, amount, message,
			payee_is_new, hour_of_day, device, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, string(tx.Type), tx.PayerID, tx.PayeeID,
		tx.Amount, tx.Message, payeeIsNew, tx.HourOfDay,
		string(device), tx.Timestamp,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, tx_type, payer_id, payee_id, amount, message,
			   payee_is_new, hour_of_day, device, timestamp
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var txType, device string
	var payeeIsNew int

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &txType, &tx.PayerID, &tx.PayeeID,
		&tx.Amount, &tx.Message, &payeeIsNew, &tx.HourOfDay,
		&device, &tx.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.PayeeIsNew = payeeIsNew == 1
	if device != "" {
		var dc domain.DeviceContext
		if err := json.Unmarshal([]byte(device), &dc); err == nil {
			tx.Device = &dc
		}
	}

	return &tx, nil
}

// CountTransactionsByPayer returns the payer's transaction count since
// the given time. Backs the velocity signal when no cache is available.
func (r *SQLRepository) CountTransactionsByPayer(ctx context.Context, payerID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE payer_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), payerID, since).Scan(&count)
	return count, err
}

// SaveEvaluation stores an evaluation result.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", domain.ErrInvalidInput)
	}

	reasons, _ := json.Marshal(eval.Reasons)
	subscores, _ := json.Marshal(eval.Subscores)
	detectorResults, _ := json.Marshal(eval.DetectorResults)
	escalation, _ := json.Marshal(eval.Escalation)

	query := `
		INSERT INTO evaluations (
			id, tx_id, trust_score, action, reasons, subscores,
			detector_results, escalation, timestamp, process_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.TransactionID, eval.TrustScore, string(eval.Action),
		string(reasons), string(subscores), string(detectorResults),
		string(escalation), eval.Timestamp, eval.ProcessMs,
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	query := `
		SELECT id, tx_id, trust_score, action, reasons, subscores,
			   detector_results, escalation, timestamp, process_ms
		FROM evaluations
		WHERE id = ?
	`

	var eval domain.Evaluation
	var action, reasons, subscores, detectorResults, escalation string

	err := r.db.QueryRowContext(ctx, r.rebind(query), evalID).Scan(
		&eval.ID, &eval.TransactionID, &eval.TrustScore, &action,
		&reasons, &subscores, &detectorResults, &escalation,
		&eval.Timestamp, &eval.ProcessMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	eval.Action = domain.Action(action)
	json.Unmarshal([]byte(reasons), &eval.Reasons)
	json.Unmarshal([]byte(subscores), &eval.Subscores)
	json.Unmarshal([]byte(detectorResults), &eval.DetectorResults)
	json.Unmarshal([]byte(escalation), &eval.Escalation)

	return &eval, nil
}

// EnqueueReview inserts a review-queue entry. Re-scoring the same
// transaction refreshes the pending entry instead of duplicating it.
func (r *SQLRepository) EnqueueReview(ctx context.Context, item *domain.ReviewItem) error {
	if item == nil || item.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	subscores, _ := json.Marshal(item.Subscores)
	triggers, _ := json.Marshal(item.Triggers)

	query := `
		INSERT INTO review_queue (
			tx_id, trust_score, priority, raw_request, subscores,
			triggers, reviewed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			trust_score = excluded.trust_score,
			priority = excluded.priority,
			raw_request = excluded.raw_request,
			subscores = excluded.subscores,
			triggers = excluded.triggers
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		item.TransactionID, item.TrustScore, string(item.Priority),
		item.RawRequest, string(subscores), string(triggers),
		item.CreatedAt,
	)
	return err
}

// ListPendingReviews returns unreviewed queue entries, highest priority
// first, oldest first within a priority.
func (r *SQLRepository) ListPendingReviews(ctx context.Context) ([]*domain.ReviewItem, error) {
	query := `
		SELECT tx_id, trust_score, priority, raw_request, subscores,
			   triggers, reviewed, analyst_id, decision, created_at
		FROM review_queue
		WHERE reviewed = 0
		ORDER BY CASE priority
			WHEN 'CRITICAL' THEN 0
			WHEN 'HIGH' THEN 1
			WHEN 'MEDIUM' THEN 2
			ELSE 3
		END, created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// PendingReviewCount returns the number of unreviewed queue entries.
func (r *SQLRepository) PendingReviewCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE reviewed = 0`).Scan(&count)
	return count, err
}

// SubmitReview records an analyst decision on a pending entry.
func (r *SQLRepository) SubmitReview(ctx context.Context, txID, analystID, decision string) error {
	if txID == "" || analystID == "" || decision == "" {
		return fmt.Errorf("%w: txID, analystID, and decision are required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE review_queue
		SET reviewed = 1, analyst_id = ?, decision = ?
		WHERE tx_id = ? AND reviewed = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), analystID, decision, txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveGateRule upserts a custom gate rule.
func (r *SQLRepository) SaveGateRule(ctx context.Context, rule *domain.GateRuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO gate_rules (
			id, name, description, expression, action, trust_cap,
			reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			trust_cap = excluded.trust_cap,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		string(rule.Action), rule.TrustCap, rule.Reason, enabled,
		now, now,
	)
	return err
}

// ListGateRules returns all stored gate rules, enabled or not. The
// custom gate engine filters on Enabled when reloading.
func (r *SQLRepository) ListGateRules(ctx context.Context) ([]*domain.GateRuleConfig, error) {
	query := `
		SELECT id, name, description, expression, action, trust_cap, reason, enabled
		FROM gate_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.GateRuleConfig
	for rows.Next() {
		var rule domain.GateRuleConfig
		var description sql.NullString
		var action string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &description, &rule.Expression,
			&action, &rule.TrustCap, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Action = domain.Action(action)
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func scanReviewItem(rows *sql.Rows) (*domain.ReviewItem, error) {
	var item domain.ReviewItem
	var priority, subscores, triggers string
	var analystID, decision sql.NullString
	var reviewed int

	if err := rows.Scan(
		&item.TransactionID, &item.TrustScore, &priority,
		&item.RawRequest, &subscores, &triggers,
		&reviewed, &analystID, &decision, &item.CreatedAt,
	); err != nil {
		return nil, err
	}

	item.Priority = domain.Priority(priority)
	item.Reviewed = reviewed == 1
	item.AnalystID = analystID.String
	item.Decision = decision.String
	json.Unmarshal([]byte(subscores), &item.Subscores)
	json.Unmarshal([]byte(triggers), &item.Triggers)

	return &item, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
