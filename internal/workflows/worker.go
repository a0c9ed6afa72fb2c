package workflows

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Register adds every workflow and activity to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(ParseFileWorkflow)
	w.RegisterWorkflow(PredictFileWorkflow)
	w.RegisterWorkflow(PresetAnswerWorkflow)
	w.RegisterWorkflow(PresetQuestionWorkflow)
	w.RegisterWorkflow(QuestionPostPipeWorkflow)
	w.RegisterWorkflow(InspectRuleWorkflow)
	w.RegisterWorkflow(ProcessFileExtractWorkflow)
	w.RegisterWorkflow(RepredictMoldWorkflow)
	w.RegisterWorkflow(TrainingWorkflow)
	w.RegisterActivity(acts)
}

// NewWorkers creates one worker for the task queue and one for the
// training queue, so long training runs never hold task slots.
func NewWorkers(c client.Client, taskQueue, trainingQueue string, acts *Activities) []worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if trainingQueue == "" {
		trainingQueue = DefaultTrainingTaskQueue
	}
	tasks := worker.New(c, taskQueue, worker.Options{})
	Register(tasks, acts)
	train := worker.New(c, trainingQueue, worker.Options{MaxConcurrentActivityExecutionSize: 1})
	Register(train, acts)
	return []worker.Worker{tasks, train}
}
