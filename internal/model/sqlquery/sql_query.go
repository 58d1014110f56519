package sqlquery

const (
	CreateConfigTable = `CREATE TABLE IF NOT EXISTS scraper_configs (
		kind TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL,
		interval_hours INTEGER NOT NULL,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ,
		running BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	CreateRunTable = `CREATE TABLE IF NOT EXISTS scraper_runs (
		id UUID PRIMARY KEY,
		run_id UUID,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL,
		duration_ms BIGINT,
		items_processed BIGINT,
		error_messages TEXT[],
		created_at TIMESTAMPTZ NOT NULL
	)`
	CreateRunQueryIndex    = "CREATE INDEX IF NOT EXISTS scraper_runs_kind_created_at ON scraper_runs (kind, created_at DESC)"
	CreateRunTerminalIndex = "CREATE UNIQUE INDEX IF NOT EXISTS scraper_runs_terminal ON scraper_runs (run_id) WHERE status <> 'started'"

	configColumns = "kind, enabled, interval_hours, last_run_at, next_run_at, running, updated_at"

	InsertDefaultConfig = "INSERT INTO scraper_configs (kind, enabled, interval_hours, running, updated_at) VALUES ($1, true, $2, false, $3) ON CONFLICT (kind) DO NOTHING"
	GetConfig           = "SELECT " + configColumns + " FROM scraper_configs WHERE kind = $1"
	GetConfigForUpdate  = GetConfig + " FOR UPDATE"
	ListConfigs         = "SELECT " + configColumns + " FROM scraper_configs ORDER BY kind"
	UpdateConfig        = "UPDATE scraper_configs SET enabled = $2, interval_hours = $3, updated_at = $4 WHERE kind = $1 RETURNING " + configColumns
	SetRunning          = "UPDATE scraper_configs SET running = $2, last_run_at = COALESCE($3, last_run_at), updated_at = $4 WHERE kind = $1 RETURNING " + configColumns
	TryMarkRunning      = "UPDATE scraper_configs SET running = true, updated_at = $2 WHERE kind = $1 AND NOT running RETURNING kind"
	SetNextRun          = "UPDATE scraper_configs SET next_run_at = $2, updated_at = $3 WHERE kind = $1"
	ResetRunning        = "UPDATE scraper_configs SET running = false, updated_at = $1 WHERE running"

	runColumns = "id, run_id, kind, status, message, duration_ms, items_processed, error_messages, created_at"

	InsertRun         = "INSERT INTO scraper_runs (" + runColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)"
	InsertTerminalRun = InsertRun + " ON CONFLICT (run_id) WHERE status <> 'started' DO NOTHING"
	GetStartedRun     = "SELECT kind FROM scraper_runs WHERE id = $1 AND status = 'started'"
	QueryRuns         = "SELECT " + runColumns + " FROM scraper_runs WHERE kind = $1 ORDER BY created_at DESC LIMIT $2"
	QueryRunsBefore   = "SELECT " + runColumns + " FROM scraper_runs WHERE kind = $1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3"
)
