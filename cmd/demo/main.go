// Command demo runs the whole pipeline in-process: in-memory store, mock
// provider and the polling scheduler. No database or API key needed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"conversation-analysis/internal/config"
	aiAdapters "conversation-analysis/internal/infra/adapters/ai"
	"conversation-analysis/internal/infra/db/memory"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/security"
	"conversation-analysis/internal/infra/worker"
	"conversation-analysis/internal/usecase"
)

const chat = `[10:01] alice: did the deploy go out?
[10:02] bob: yes, but checkout latency doubled
[10:04] alice: rolling back now
[10:09] bob: latency is back to normal, thanks!`

func main() {
	cfg, err := config.LoadConfig("demo.yaml", true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.Log.Format = "console"
	cfg.Worker.PollInterval = 200 * time.Millisecond
	cfg.Worker.RetryDelay = 200 * time.Millisecond
	logger := logging.New(cfg.Log, true)

	jobs := memory.NewJobRepo()
	errlog := usecase.NewErrorLogUseCase(memory.NewErrorEventRepo(), memory.NewActivityRepo(), logger)
	cipher, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}
	registry := aiAdapters.NewRegistry(aiAdapters.NewMockProvider(300 * time.Millisecond))
	prompts := usecase.NewPromptBuilder(nil, nil, 0, logger)
	analysis := usecase.NewAnalysisUseCase(registry, 5*time.Second, 0, logger)
	proc := worker.NewProcessor(jobs, cipher, prompts, analysis, errlog, logger)
	poller := worker.NewPoller(jobs, proc, cfg.Worker, logger)
	jobUC := usecase.NewJobUseCase(jobs, cipher, registry, prompts, poller, errlog, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx)
	}()

	// One happy path, one unparseable reply, one provider that always times out.
	var ids []string
	for _, model := range []string{"mock-small", "mock-garbage", "mock-timeout"} {
		id, err := jobUC.CreateJob(ctx, usecase.CreateJobParams{
			UserID:      "demo-user",
			ModelID:     model,
			Provider:    "mock",
			FileName:    "incident.txt",
			FileContent: chat,
			APIKey:      "demo-key",
		})
		if err != nil {
			log.Fatalf("create job: %v", err)
		}
		ids = append(ids, id)
	}

	deadline := time.Now().Add(30 * time.Second)
	for _, id := range ids {
		for {
			v, err := jobUC.GetJobStatus(ctx, id, "demo-user")
			if err != nil {
				log.Fatalf("status: %v", err)
			}
			if v.IsComplete || time.Now().After(deadline) {
				out, _ := json.MarshalIndent(v, "", "  ")
				fmt.Printf("%s (%s): %s\n%s\n\n", v.ModelID, id, v.Status, out)
				break
			}
			time.Sleep(250 * time.Millisecond)
		}
	}

	cancel()
	<-done
	errlog.Wait()
}
