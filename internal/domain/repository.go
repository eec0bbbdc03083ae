package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository defines the persistence interface: transactions,
// evaluations, the analyst review queue, and custom gate rules.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	CountTransactionsByPayer(ctx context.Context, payerID string, since time.Time) (int64, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*Evaluation, error)

	// Review queue (HITL sink)
	EnqueueReview(ctx context.Context, item *ReviewItem) error
	ListPendingReviews(ctx context.Context) ([]*ReviewItem, error)
	PendingReviewCount(ctx context.Context) (int64, error)
	SubmitReview(ctx context.Context, txID, analystID, decision string) error

	// Custom gate rules
	SaveGateRule(ctx context.Context, rule *GateRuleConfig) error
	ListGateRules(ctx context.Context) ([]*GateRuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// GateRuleConfig is an operator-defined CEL gate evaluated after the
// built-in policy gates. A firing rule may only tighten the outcome.
type GateRuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL boolean over message, amount, tx_type,
	// trust, and the per-signal subscores.
	Expression string `json:"expression"`

	// Action and TrustCap applied when the expression is true.
	Action   Action `json:"action"`
	TrustCap int    `json:"trustCap"`
	Reason   string `json:"reason"`

	Enabled bool `json:"enabled"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
