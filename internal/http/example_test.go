package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/extractd/internal/http"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/store/memstore"
)

type noTasks struct{}

func (noTasks) ParseComplete(context.Context, string, []byte) ([]int64, error) { return nil, nil }
func (noTasks) ParseFailed(context.Context, string, string) error              { return nil }
func (noTasks) ProcessFile(context.Context, int64, orchestrator.ProcessOptions) error {
	return nil
}
func (noTasks) Submit(context.Context, orchestrator.SubmitRequest) (*question.Answer, error) {
	return &question.Answer{}, nil
}
func (noTasks) ResetStatuses(context.Context, orchestrator.ResetRequest) (orchestrator.ResetReport, error) {
	return orchestrator.ResetReport{}, nil
}
func (noTasks) ProcessFileExtract(context.Context, orchestrator.ExtractRequest) error { return nil }

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	logger := zap.NewNop()
	st := memstore.New()

	server, err := httpserver.NewServer(httpserver.Deps{
		Tasks:    noTasks{},
		Extracts: noTasks{},
		Files:    st.Files(),
		Molds:    st.Molds(),
	}, logger, &httpserver.Config{Host: "localhost", Port: 9090})
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
