package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tx_type TEXT NOT NULL,
    payer_id TEXT NOT NULL,
    payee_id TEXT NOT NULL,
    amount REAL NOT NULL,
    message TEXT NOT NULL,
    payee_is_new INTEGER NOT NULL DEFAULT 0,
    hour_of_day INTEGER NOT NULL,
    device TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_payer ON transactions(payer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_payee ON transactions(payee_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    trust_score INTEGER NOT NULL,
    action TEXT NOT NULL,
    reasons TEXT NOT NULL,
    subscores TEXT NOT NULL,
    detector_results TEXT,
    escalation TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    process_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tx ON evaluations(tx_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_action ON evaluations(action);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
`

const schemaReviewQueue = `
CREATE TABLE IF NOT EXISTS review_queue (
    tx_id TEXT PRIMARY KEY,
    trust_score INTEGER NOT NULL,
    priority TEXT NOT NULL,
    raw_request BLOB,
    subscores TEXT NOT NULL,
    triggers TEXT NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    analyst_id TEXT,
    decision TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_queue_pending ON review_queue(reviewed, created_at);
CREATE INDEX IF NOT EXISTS idx_review_queue_priority ON review_queue(priority);
`

const schemaGateRules = `
CREATE TABLE IF NOT EXISTS gate_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    trust_cap INTEGER NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gate_rules_enabled ON gate_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaEvaluations,
		schemaReviewQueue,
		schemaGateRules,
	}
}
