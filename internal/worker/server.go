package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/service"
	"ephemeral-relay/internal/tasks"
)

// WorkerServer wraps the asynq worker that runs the directory's periodic
// work. Moving gossip off the request path keeps the observable behavior
// (a tick roughly every 30s, never faster, since Tick throttles itself) while
// decoupling it from traffic.
type WorkerServer struct {
	server    *asynq.Server
	directory *service.DirectoryService
	log       *logrus.Entry
}

// NewWorkerServer creates a WorkerServer backed by the given redis
// connection.
func NewWorkerServer(redisOpt asynq.RedisClientOpt, directory *service.DirectoryService, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:    server,
		directory: directory,
		log:       logEntry,
	}
}

// Start runs the worker server. Call it from its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	gossipHandler := NewGossipHandler(ws.directory)
	mux.HandleFunc(tasks.TypeGossipTick, gossipHandler.ProcessTick)
	mux.HandleFunc(tasks.TypeDirectoryPrune, gossipHandler.ProcessPrune)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown stops the worker server gracefully.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
