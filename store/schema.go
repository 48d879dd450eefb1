package store

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	total TEXT NOT NULL,
	spot TEXT NOT NULL,
	futures TEXT NOT NULL,
	forex TEXT NOT NULL,
	unrealized TEXT NOT NULL,
	net_deposits TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_snapshots_time ON equity_snapshots(time);

CREATE TABLE IF NOT EXISTS instance_lease (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	owner TEXT NOT NULL,
	host TEXT NOT NULL,
	pid INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	heartbeat_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	amount TEXT NOT NULL,
	leverage INTEGER NOT NULL,
	status TEXT NOT NULL,
	order_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	message TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(time);
`
