package postgresql

// migrations holds the ordered schema migrations for the engine's tables.
// workflow_logs carries no UPDATE or DELETE path anywhere in this package;
// the ledger is append-only by construction.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				trigger_spec JSONB NOT NULL DEFAULT '{}',
				entry_node_id TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status) WHERE deleted_at IS NULL;
			CREATE INDEX IF NOT EXISTS idx_workflows_project ON workflows (project_id);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				project_id TEXT NOT NULL DEFAULT '',
				subject_type TEXT NOT NULL DEFAULT '',
				subject_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				current_node_id TEXT NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				wait_reason TEXT NOT NULL DEFAULT '',
				resume_at TIMESTAMP WITH TIME ZONE,
				awaited_node_id TEXT NOT NULL DEFAULT '',
				attempts INTEGER NOT NULL DEFAULT 0,
				version BIGINT NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				error_detail TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow ON workflow_executions (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_executions_waiting ON workflow_executions (resume_at) WHERE status = 'waiting';
			CREATE INDEX IF NOT EXISTS idx_executions_active ON workflow_executions (started_at)
				WHERE status NOT IN ('completed', 'failed', 'timed_out', 'cancelled');
		`,
		3: `
			CREATE TABLE IF NOT EXISTS workflow_logs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL,
				workflow_id UUID NOT NULL,
				seq INTEGER NOT NULL,
				from_node_id TEXT NOT NULL,
				to_node_id TEXT NOT NULL DEFAULT '',
				outcome TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, seq)
			);

			CREATE INDEX IF NOT EXISTS idx_logs_execution ON workflow_logs (execution_id, seq);
		`,
		4: `
			CREATE TABLE IF NOT EXISTS schedules (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL UNIQUE,
				cron_expression TEXT NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE
			);

			CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (next_due_at) WHERE active;
		`,
		5: `
			CREATE TABLE IF NOT EXISTS dispatch_records (
				execution_id UUID NOT NULL,
				node_id TEXT NOT NULL,
				outcome TEXT NOT NULL,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, node_id)
			);
		`,
	}
}
