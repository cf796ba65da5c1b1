package tasks

import "github.com/hibiken/asynq"

// Task types handled by the worker.
const (
	TypeGossipTick     = "gossip:tick"
	TypeDirectoryPrune = "directory:prune"
)

// NewGossipTickTask creates the periodic gossip task. It carries no
// payload; the directory holds all the state.
func NewGossipTickTask() *asynq.Task {
	return asynq.NewTask(TypeGossipTick, nil)
}

// NewDirectoryPruneTask creates the periodic expired-locator sweep task.
func NewDirectoryPruneTask() *asynq.Task {
	return asynq.NewTask(TypeDirectoryPrune, nil)
}

// TickSchedule and PruneSchedule are the cron-style schedules registered
// with the asynq scheduler.
const (
	TickSchedule  = "@every 30s"
	PruneSchedule = "@every 5m"
)
