package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

type DefinitionStore struct {
	db  TxDB
	now func() time.Time
}

var _ repo.DefinitionRepository = (*DefinitionStore)(nil)

const (
	insertPipelineDefinitionQuery = `INSERT INTO pipeline_definitions (
		pipeline_id,
		name,
		repository_url,
		branch,
		commit_hash,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6)`

	insertStageDefinitionQuery = `INSERT INTO stage_definitions (
		stage_id,
		pipeline_id,
		name,
		execution_order
	) VALUES ($1,$2,$3,$4)`

	insertJobDefinitionQuery = `INSERT INTO job_definitions (
		job_id,
		stage_id,
		pipeline_id,
		name,
		position,
		image,
		script,
		working_dir,
		allow_failure,
		artifact_patterns,
		dependencies
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	selectPipelineDefinitionQuery = `SELECT pipeline_id, name, repository_url, branch, commit_hash
	 FROM pipeline_definitions
	 WHERE pipeline_id = $1`

	listStageDefinitionsQuery = `SELECT stage_id, pipeline_id, name, execution_order
	 FROM stage_definitions
	 WHERE pipeline_id = $1
	 ORDER BY execution_order ASC`

	listJobDefinitionsQuery = `SELECT job_id, stage_id, name, image, script, working_dir, allow_failure, artifact_patterns, dependencies
	 FROM job_definitions
	 WHERE pipeline_id = $1
	 ORDER BY position ASC`

	pipelineDefinitionExistsQuery = `SELECT EXISTS (SELECT 1 FROM pipeline_definitions WHERE pipeline_id = $1)`
)

func NewDefinitionStore(db TxDB) *DefinitionStore {
	if db == nil {
		return nil
	}
	return &DefinitionStore{db: db, now: time.Now}
}

func (s *DefinitionStore) CreatePipelineDefinition(ctx context.Context, def domain.PipelineDefinition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("definition store not initialized")
	}
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		insertPipelineDefinitionQuery,
		strings.TrimSpace(def.ID),
		strings.TrimSpace(def.Name),
		nullIfEmpty(def.RepositoryURL),
		nullIfEmpty(def.Branch),
		nullIfEmpty(def.CommitHash),
		normalizeTime(s.now()),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pipeline definition %s already exists", def.ID)
		}
		return fmt.Errorf("insert pipeline definition: %w", err)
	}

	position := 0
	for _, stage := range def.Stages {
		if _, err := tx.ExecContext(ctx, insertStageDefinitionQuery, stage.ID, def.ID, stage.Name, stage.ExecutionOrder); err != nil {
			return fmt.Errorf("insert stage definition %s: %w", stage.Name, err)
		}
		for _, job := range stage.Jobs {
			script, err := encodeStrings(job.Script)
			if err != nil {
				return fmt.Errorf("encode script: %w", err)
			}
			patterns, err := encodeStrings(job.ArtifactPatterns)
			if err != nil {
				return fmt.Errorf("encode artifact patterns: %w", err)
			}
			deps, err := encodeStrings(job.Dependencies)
			if err != nil {
				return fmt.Errorf("encode dependencies: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				insertJobDefinitionQuery,
				job.ID,
				stage.ID,
				def.ID,
				job.Name,
				position,
				job.Image,
				script,
				nullIfEmpty(job.WorkingDir),
				job.AllowFailure,
				patterns,
				deps,
			); err != nil {
				return fmt.Errorf("insert job definition %s: %w", job.Name, err)
			}
			position++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *DefinitionStore) GetPipelineDefinition(ctx context.Context, id string) (domain.PipelineDefinition, error) {
	if s == nil || s.db == nil {
		return domain.PipelineDefinition{}, fmt.Errorf("definition store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PipelineDefinition{}, fmt.Errorf("pipeline id is required")
	}

	var def domain.PipelineDefinition
	var repositoryURL, branch, commitHash sql.NullString
	if err := s.db.QueryRowContext(ctx, selectPipelineDefinitionQuery, id).Scan(
		&def.ID, &def.Name, &repositoryURL, &branch, &commitHash,
	); err != nil {
		return domain.PipelineDefinition{}, handleNotFound(err)
	}
	def.RepositoryURL = repositoryURL.String
	def.Branch = branch.String
	def.CommitHash = commitHash.String

	stageRows, err := s.db.QueryContext(ctx, listStageDefinitionsQuery, id)
	if err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("list stage definitions: %w", err)
	}
	defer stageRows.Close()
	stageIndex := map[string]int{}
	for stageRows.Next() {
		var stage domain.StageDefinition
		if err := stageRows.Scan(&stage.ID, &stage.PipelineID, &stage.Name, &stage.ExecutionOrder); err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("scan stage definition: %w", err)
		}
		stage.Jobs = []domain.JobDefinition{}
		stageIndex[stage.ID] = len(def.Stages)
		def.Stages = append(def.Stages, stage)
	}
	if err := stageRows.Err(); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("list stage definitions: %w", err)
	}

	jobRows, err := s.db.QueryContext(ctx, listJobDefinitionsQuery, id)
	if err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("list job definitions: %w", err)
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var job domain.JobDefinition
		var workingDir sql.NullString
		var script, patterns, deps []byte
		if err := jobRows.Scan(&job.ID, &job.StageID, &job.Name, &job.Image, &script, &workingDir, &job.AllowFailure, &patterns, &deps); err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("scan job definition: %w", err)
		}
		job.WorkingDir = workingDir.String
		if job.Script, err = decodeStrings(script); err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("decode script: %w", err)
		}
		if job.ArtifactPatterns, err = decodeStrings(patterns); err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("decode artifact patterns: %w", err)
		}
		if job.Dependencies, err = decodeStrings(deps); err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("decode dependencies: %w", err)
		}
		i, ok := stageIndex[job.StageID]
		if !ok {
			return domain.PipelineDefinition{}, fmt.Errorf("job %s references unknown stage %s", job.Name, job.StageID)
		}
		def.Stages[i].Jobs = append(def.Stages[i].Jobs, job)
	}
	if err := jobRows.Err(); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("list job definitions: %w", err)
	}
	return def, nil
}

func (s *DefinitionStore) PipelineDefinitionExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("definition store not initialized")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, pipelineDefinitionExistsQuery, strings.TrimSpace(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("pipeline definition exists: %w", err)
	}
	return exists, nil
}
