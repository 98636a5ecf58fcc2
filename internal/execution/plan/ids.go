package plan

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// AssignIDs returns a copy of def where every pipeline, stage and job has an
// id and every child points at its parent. Existing ids are kept.
func AssignIDs(def domain.PipelineDefinition, newID func() string) domain.PipelineDefinition {
	if newID == nil {
		newID = uuid.NewString
	}
	out := def
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	out.Stages = make([]domain.StageDefinition, len(def.Stages))
	for i, stage := range def.Stages {
		if strings.TrimSpace(stage.ID) == "" {
			stage.ID = newID()
		}
		stage.PipelineID = out.ID
		jobs := make([]domain.JobDefinition, len(stage.Jobs))
		for j, job := range stage.Jobs {
			if strings.TrimSpace(job.ID) == "" {
				job.ID = newID()
			}
			job.StageID = stage.ID
			job.Script = append([]string(nil), job.Script...)
			job.Dependencies = append([]string(nil), job.Dependencies...)
			job.ArtifactPatterns = append([]string(nil), job.ArtifactPatterns...)
			jobs[j] = job
		}
		stage.Jobs = jobs
		out.Stages[i] = stage
	}
	return out
}
