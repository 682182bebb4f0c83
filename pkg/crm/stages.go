package crm

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/model"
)

// ReindexStages assigns every stage its 1-based position in the slice and
// points it at the owning pipeline. A zero pipelineID leaves PipelineID
// untouched so that it can be filled in when the pipeline row is inserted.
// The slice is modified in place and never reordered.
func ReindexStages(pipelineID uuid.UUID, stages []model.PipelineStage) []model.PipelineStage {
	for i := range stages {
		stages[i].Index = i + 1
		if pipelineID != uuid.Nil {
			stages[i].PipelineID = pipelineID
		}
	}
	return stages
}

// SortStagesByIndex orders stages ascending by Index. Stages sharing an index
// keep their relative order.
func SortStagesByIndex(stages []model.PipelineStage) []model.PipelineStage {
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Index < stages[j].Index
	})
	return stages
}

// withRecover runs fn and logs instead of propagating a panic. Stage ordering
// is display enrichment and must not fail a save or a read.
func withRecover(logger *zap.Logger, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("stage enrichment failed", zap.String("operation", op), zap.Any("panic", r))
		}
	}()
	fn()
}

func (s *PipelineService) reindex(logger *zap.Logger, pipeline *model.Pipeline) {
	withRecover(logger, "reindex", func() {
		ReindexStages(pipeline.ID, pipeline.Stages)
	})
}

func (s *PipelineService) sortLoaded(logger *zap.Logger, pipelines ...*model.Pipeline) {
	withRecover(logger, "sort", func() {
		for _, p := range pipelines {
			SortStagesByIndex(p.Stages)
		}
	})
}
