package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

type ExecutionStore struct {
	db TxDB
}

var _ repo.ExecutionRepository = (*ExecutionStore)(nil)

const (
	insertPipelineExecutionQuery = `INSERT INTO pipeline_executions (
		pipeline_execution_id,
		pipeline_id,
		run_number,
		commit_hash,
		is_local,
		status,
		start_time,
		completion_time
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	insertStageExecutionQuery = `INSERT INTO stage_executions (
		stage_execution_id,
		pipeline_execution_id,
		stage_id,
		execution_order,
		status,
		start_time,
		completion_time
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	insertJobExecutionQuery = `INSERT INTO job_executions (
		job_execution_id,
		stage_execution_id,
		job_id,
		position,
		status,
		allow_failure,
		start_time,
		completion_time,
		logs
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	nextRunNumberQuery = `INSERT INTO pipeline_run_counters (pipeline_id, last_run)
	 VALUES ($1, 1)
	 ON CONFLICT (pipeline_id) DO UPDATE SET last_run = pipeline_run_counters.last_run + 1
	 RETURNING last_run`

	selectPipelineExecutionQuery = `SELECT pipeline_execution_id, pipeline_id, run_number, commit_hash, is_local, status, start_time, completion_time
	 FROM pipeline_executions
	 WHERE pipeline_execution_id = $1`

	selectPipelineExecutionByRunQuery = `SELECT pipeline_execution_id, pipeline_id, run_number, commit_hash, is_local, status, start_time, completion_time
	 FROM pipeline_executions
	 WHERE pipeline_id = $1 AND run_number = $2`

	listPipelineExecutionsQuery = `SELECT pipeline_execution_id, pipeline_id, run_number, commit_hash, is_local, status, start_time, completion_time
	 FROM pipeline_executions
	 WHERE pipeline_id = $1
	 ORDER BY run_number ASC`

	listPipelineExecutionsByStatusQuery = `SELECT pipeline_execution_id, pipeline_id, run_number, commit_hash, is_local, status, start_time, completion_time
	 FROM pipeline_executions
	 WHERE status = ANY($1)
	 ORDER BY pipeline_id ASC, run_number ASC`

	updatePipelineExecutionQuery = `UPDATE pipeline_executions
	 SET status = $2, start_time = $3, completion_time = $4
	 WHERE pipeline_execution_id = $1 AND status NOT IN ` + terminalStatuses

	selectStageExecutionQuery = `SELECT stage_execution_id, pipeline_execution_id, stage_id, execution_order, status, start_time, completion_time
	 FROM stage_executions
	 WHERE stage_execution_id = $1`

	listStageExecutionsQuery = `SELECT stage_execution_id, pipeline_execution_id, stage_id, execution_order, status, start_time, completion_time
	 FROM stage_executions
	 WHERE pipeline_execution_id = $1
	 ORDER BY execution_order ASC`

	updateStageExecutionQuery = `UPDATE stage_executions
	 SET status = $2, start_time = $3, completion_time = $4
	 WHERE stage_execution_id = $1 AND status NOT IN ` + terminalStatuses

	selectJobExecutionQuery = `SELECT job_execution_id, stage_execution_id, job_id, status, allow_failure, start_time, completion_time, logs
	 FROM job_executions
	 WHERE job_execution_id = $1`

	listJobExecutionsByStageQuery = `SELECT job_execution_id, stage_execution_id, job_id, status, allow_failure, start_time, completion_time, logs
	 FROM job_executions
	 WHERE stage_execution_id = $1
	 ORDER BY position ASC`

	listJobExecutionsByPipelineQuery = `SELECT j.job_execution_id, j.stage_execution_id, j.job_id, j.status, j.allow_failure, j.start_time, j.completion_time, j.logs
	 FROM job_executions j
	 JOIN stage_executions s ON s.stage_execution_id = j.stage_execution_id
	 WHERE s.pipeline_execution_id = $1
	 ORDER BY s.execution_order ASC, j.position ASC`

	updateJobExecutionQuery = `UPDATE job_executions
	 SET status = $2, start_time = $3, completion_time = $4, logs = $5
	 WHERE job_execution_id = $1 AND status NOT IN ` + terminalStatuses

	pipelineExecutionExistsQuery = `SELECT EXISTS (SELECT 1 FROM pipeline_executions WHERE pipeline_execution_id = $1)`
	stageExecutionExistsQuery    = `SELECT EXISTS (SELECT 1 FROM stage_executions WHERE stage_execution_id = $1)`
	jobExecutionExistsQuery      = `SELECT EXISTS (SELECT 1 FROM job_executions WHERE job_execution_id = $1)`
)

func NewExecutionStore(db TxDB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) CreateExecutionTree(ctx context.Context, pipeline domain.PipelineExecution, stages []domain.StageExecution, jobs []domain.JobExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(pipeline.ID) == "" {
		return fmt.Errorf("pipeline execution id is required")
	}
	if strings.TrimSpace(pipeline.PipelineID) == "" {
		return fmt.Errorf("pipeline id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		insertPipelineExecutionQuery,
		pipeline.ID,
		pipeline.PipelineID,
		pipeline.RunNumber,
		nullIfEmpty(pipeline.CommitHash),
		pipeline.IsLocal,
		string(pipeline.Status),
		nullTime(pipeline.StartTime),
		nullTime(pipeline.CompletionTime),
	); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("pipeline definition %s: %w", pipeline.PipelineID, repo.ErrNotFound)
		}
		return fmt.Errorf("insert pipeline execution: %w", err)
	}

	for _, stage := range stages {
		if _, err := tx.ExecContext(
			ctx,
			insertStageExecutionQuery,
			stage.ID,
			pipeline.ID,
			stage.StageID,
			stage.ExecutionOrder,
			string(stage.Status),
			nullTime(stage.StartTime),
			nullTime(stage.CompletionTime),
		); err != nil {
			return fmt.Errorf("insert stage execution: %w", err)
		}
	}

	positions := map[string]int{}
	for _, job := range jobs {
		position := positions[job.StageExecutionID]
		positions[job.StageExecutionID]++
		if _, err := tx.ExecContext(
			ctx,
			insertJobExecutionQuery,
			job.ID,
			job.StageExecutionID,
			job.JobID,
			position,
			string(job.Status),
			job.AllowFailure,
			nullTime(job.StartTime),
			nullTime(job.CompletionTime),
			job.Logs,
		); err != nil {
			return fmt.Errorf("insert job execution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *ExecutionStore) NextRunNumber(ctx context.Context, pipelineID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("execution store not initialized")
	}
	var next int
	if err := s.db.QueryRowContext(ctx, nextRunNumberQuery, strings.TrimSpace(pipelineID)).Scan(&next); err != nil {
		if isForeignKeyViolation(err) {
			return 0, repo.ErrNotFound
		}
		return 0, fmt.Errorf("next run number: %w", err)
	}
	return next, nil
}

func (s *ExecutionStore) GetPipelineExecution(ctx context.Context, id string) (domain.PipelineExecution, error) {
	if s == nil || s.db == nil {
		return domain.PipelineExecution{}, fmt.Errorf("execution store not initialized")
	}
	return scanPipelineExecution(s.db.QueryRowContext(ctx, selectPipelineExecutionQuery, strings.TrimSpace(id)))
}

func (s *ExecutionStore) GetPipelineExecutionByRunNumber(ctx context.Context, pipelineID string, runNumber int) (domain.PipelineExecution, error) {
	if s == nil || s.db == nil {
		return domain.PipelineExecution{}, fmt.Errorf("execution store not initialized")
	}
	return scanPipelineExecution(s.db.QueryRowContext(ctx, selectPipelineExecutionByRunQuery, strings.TrimSpace(pipelineID), runNumber))
}

func (s *ExecutionStore) ListPipelineExecutions(ctx context.Context, pipelineID string) ([]domain.PipelineExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	return s.listPipelines(ctx, listPipelineExecutionsQuery, strings.TrimSpace(pipelineID))
}

func (s *ExecutionStore) ListPipelineExecutionsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.PipelineExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return s.listPipelines(ctx, listPipelineExecutionsByStatusQuery, values)
}

func (s *ExecutionStore) listPipelines(ctx context.Context, query string, arg any) ([]domain.PipelineExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list pipeline executions: %w", err)
	}
	defer rows.Close()
	var out []domain.PipelineExecution
	for rows.Next() {
		exec, err := scanPipelineExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipeline executions: %w", err)
	}
	return out, nil
}

func (s *ExecutionStore) UpdatePipelineExecution(ctx context.Context, exec domain.PipelineExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updatePipelineExecutionQuery, exec.ID, string(exec.Status), nullTime(exec.StartTime), nullTime(exec.CompletionTime))
	if err != nil {
		return fmt.Errorf("update pipeline execution: %w", err)
	}
	return s.checkUpdated(ctx, res, pipelineExecutionExistsQuery, exec.ID)
}

func (s *ExecutionStore) GetStageExecution(ctx context.Context, id string) (domain.StageExecution, error) {
	if s == nil || s.db == nil {
		return domain.StageExecution{}, fmt.Errorf("execution store not initialized")
	}
	return scanStageExecution(s.db.QueryRowContext(ctx, selectStageExecutionQuery, strings.TrimSpace(id)))
}

func (s *ExecutionStore) ListStageExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.StageExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listStageExecutionsQuery, strings.TrimSpace(pipelineExecutionID))
	if err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StageExecution, 0)
	for rows.Next() {
		stage, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	return out, nil
}

func (s *ExecutionStore) UpdateStageExecution(ctx context.Context, exec domain.StageExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateStageExecutionQuery, exec.ID, string(exec.Status), nullTime(exec.StartTime), nullTime(exec.CompletionTime))
	if err != nil {
		return fmt.Errorf("update stage execution: %w", err)
	}
	return s.checkUpdated(ctx, res, stageExecutionExistsQuery, exec.ID)
}

func (s *ExecutionStore) GetJobExecution(ctx context.Context, id string) (domain.JobExecution, error) {
	if s == nil || s.db == nil {
		return domain.JobExecution{}, fmt.Errorf("execution store not initialized")
	}
	return scanJobExecution(s.db.QueryRowContext(ctx, selectJobExecutionQuery, strings.TrimSpace(id)))
}

func (s *ExecutionStore) JobExecutionExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("execution store not initialized")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, jobExecutionExistsQuery, strings.TrimSpace(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("job execution exists: %w", err)
	}
	return exists, nil
}

func (s *ExecutionStore) ListJobExecutionsByStage(ctx context.Context, stageExecutionID string) ([]domain.JobExecution, error) {
	return s.listJobs(ctx, listJobExecutionsByStageQuery, stageExecutionID)
}

func (s *ExecutionStore) ListJobExecutionsByPipeline(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error) {
	return s.listJobs(ctx, listJobExecutionsByPipelineQuery, pipelineExecutionID)
}

func (s *ExecutionStore) UpdateJobExecution(ctx context.Context, exec domain.JobExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateJobExecutionQuery, exec.ID, string(exec.Status), nullTime(exec.StartTime), nullTime(exec.CompletionTime), exec.Logs)
	if err != nil {
		return fmt.Errorf("update job execution: %w", err)
	}
	return s.checkUpdated(ctx, res, jobExecutionExistsQuery, exec.ID)
}

func (s *ExecutionStore) listJobs(ctx context.Context, query, parentID string) ([]domain.JobExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, query, strings.TrimSpace(parentID))
	if err != nil {
		return nil, fmt.Errorf("list job executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.JobExecution, 0)
	for rows.Next() {
		job, err := scanJobExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job executions: %w", err)
	}
	return out, nil
}

// checkUpdated tells a terminal record apart from a missing one when the
// guarded UPDATE touched no rows.
func (s *ExecutionStore) checkUpdated(ctx context.Context, res sql.Result, existsQuery, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if !exists {
		return repo.ErrNotFound
	}
	return domain.ErrTerminal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipelineExecution(scanner rowScanner) (domain.PipelineExecution, error) {
	var exec domain.PipelineExecution
	var commitHash sql.NullString
	var status string
	var startTime, completionTime sql.NullTime
	if err := scanner.Scan(
		&exec.ID,
		&exec.PipelineID,
		&exec.RunNumber,
		&commitHash,
		&exec.IsLocal,
		&status,
		&startTime,
		&completionTime,
	); err != nil {
		return domain.PipelineExecution{}, handleNotFound(err)
	}
	parsed, err := parseStatus(status)
	if err != nil {
		return domain.PipelineExecution{}, err
	}
	exec.CommitHash = commitHash.String
	exec.Lifecycle = domain.Lifecycle{Status: parsed, StartTime: timePtr(startTime), CompletionTime: timePtr(completionTime)}
	return exec, nil
}

func scanStageExecution(scanner rowScanner) (domain.StageExecution, error) {
	var stage domain.StageExecution
	var status string
	var startTime, completionTime sql.NullTime
	if err := scanner.Scan(
		&stage.ID,
		&stage.PipelineExecutionID,
		&stage.StageID,
		&stage.ExecutionOrder,
		&status,
		&startTime,
		&completionTime,
	); err != nil {
		return domain.StageExecution{}, handleNotFound(err)
	}
	parsed, err := parseStatus(status)
	if err != nil {
		return domain.StageExecution{}, err
	}
	stage.Lifecycle = domain.Lifecycle{Status: parsed, StartTime: timePtr(startTime), CompletionTime: timePtr(completionTime)}
	return stage, nil
}

func scanJobExecution(scanner rowScanner) (domain.JobExecution, error) {
	var job domain.JobExecution
	var status string
	var startTime, completionTime sql.NullTime
	if err := scanner.Scan(
		&job.ID,
		&job.StageExecutionID,
		&job.JobID,
		&status,
		&job.AllowFailure,
		&startTime,
		&completionTime,
		&job.Logs,
	); err != nil {
		return domain.JobExecution{}, handleNotFound(err)
	}
	parsed, err := parseStatus(status)
	if err != nil {
		return domain.JobExecution{}, err
	}
	job.Lifecycle = domain.Lifecycle{Status: parsed, StartTime: timePtr(startTime), CompletionTime: timePtr(completionTime)}
	return job, nil
}
