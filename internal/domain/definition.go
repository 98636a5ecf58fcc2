package domain

import (
	"errors"
	"fmt"
	"strings"
)

// JobDefinition is the smallest unit of work: an image plus a script.
type JobDefinition struct {
	ID               string   `json:"id"`
	StageID          string   `json:"stageId"`
	Name             string   `json:"name"`
	Image            string   `json:"image"`
	Script           []string `json:"script"`
	WorkingDir       string   `json:"workingDir,omitempty"`
	AllowFailure     bool     `json:"allowFailure"`
	ArtifactPatterns []string `json:"artifactPatterns,omitempty"`
	// Dependencies holds job names within the same pipeline.
	Dependencies []string `json:"dependencies,omitempty"`
}

type StageDefinition struct {
	ID             string          `json:"id"`
	PipelineID     string          `json:"pipelineId"`
	Name           string          `json:"name"`
	ExecutionOrder int             `json:"executionOrder"`
	Jobs           []JobDefinition `json:"jobs"`
}

type PipelineDefinition struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	RepositoryURL string            `json:"repositoryUrl,omitempty"`
	Branch        string            `json:"branch,omitempty"`
	CommitHash    string            `json:"commitHash,omitempty"`
	Stages        []StageDefinition `json:"stages"`
}

func NewJobDefinition(name, image string, script []string) (JobDefinition, error) {
	job := JobDefinition{
		Name:   strings.TrimSpace(name),
		Image:  strings.TrimSpace(image),
		Script: append([]string(nil), script...),
	}
	if err := job.Validate(); err != nil {
		return JobDefinition{}, err
	}
	return job, nil
}

func NewStageDefinition(name string, order int, jobs ...JobDefinition) (StageDefinition, error) {
	stage := StageDefinition{
		Name:           strings.TrimSpace(name),
		ExecutionOrder: order,
		Jobs:           append([]JobDefinition(nil), jobs...),
	}
	if err := stage.Validate(); err != nil {
		return StageDefinition{}, err
	}
	return stage, nil
}

func NewPipelineDefinition(name string, stages ...StageDefinition) (PipelineDefinition, error) {
	def := PipelineDefinition{
		Name:   strings.TrimSpace(name),
		Stages: append([]StageDefinition(nil), stages...),
	}
	if err := def.Validate(); err != nil {
		return PipelineDefinition{}, err
	}
	return def, nil
}

func (j JobDefinition) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(j.Image) == "" {
		return fmt.Errorf("job %q: image is required", j.Name)
	}
	return nil
}

func (s StageDefinition) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("stage name is required")
	}
	if s.ExecutionOrder < 0 {
		return fmt.Errorf("stage %q: execution order must be >= 0", s.Name)
	}
	for _, job := range s.Jobs {
		if err := job.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p PipelineDefinition) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	for _, stage := range p.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Job returns the job definition with the given id.
func (p PipelineDefinition) Job(id string) (JobDefinition, bool) {
	for _, stage := range p.Stages {
		for _, job := range stage.Jobs {
			if job.ID == id {
				return job, true
			}
		}
	}
	return JobDefinition{}, false
}

// JobIDsByName maps every job name to its id.
func (p PipelineDefinition) JobIDsByName() map[string]string {
	out := make(map[string]string)
	for _, stage := range p.Stages {
		for _, job := range stage.Jobs {
			out[job.Name] = job.ID
		}
	}
	return out
}
