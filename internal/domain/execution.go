package domain

// PipelineExecution is one run of a pipeline definition.
type PipelineExecution struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipelineId"`
	RunNumber  int    `json:"runNumber"`
	CommitHash string `json:"commitHash,omitempty"`
	IsLocal    bool   `json:"isLocal"`
	Lifecycle
}

type StageExecution struct {
	ID                  string `json:"id"`
	PipelineExecutionID string `json:"pipelineExecutionId"`
	StageID             string `json:"stageId"`
	ExecutionOrder      int    `json:"executionOrder"`
	Lifecycle
}

// JobExecution copies AllowFailure from its definition so the record is
// self-contained for aggregation.
type JobExecution struct {
	ID               string `json:"id"`
	StageExecutionID string `json:"stageExecutionId"`
	JobID            string `json:"jobId"`
	AllowFailure     bool   `json:"allowFailure"`
	Logs             string `json:"logs,omitempty"`
	Lifecycle
}

// ToleratedFailure reports whether the job failed but is allowed to.
func (j JobExecution) ToleratedFailure() bool {
	return j.Status == StatusFailed && j.AllowFailure
}

// BlockingFailure reports whether the job failed and is not allowed to.
func (j JobExecution) BlockingFailure() bool {
	return j.Status == StatusFailed && !j.AllowFailure
}
