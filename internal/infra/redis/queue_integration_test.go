//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/infra/db/memory"
)

// setupRedis spins up a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redClient {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cli, err := NewClient(ctx, config.RedisConfig{URL: "redis://" + host + ":" + port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestQueueRoundTrip_RealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cli := setupRedis(t)
	ctx := context.Background()
	logger := zerolog.Nop()
	jobs := memory.NewJobRepo()
	q := NewQueue(cli, jobs, NewLocker(cli), QueueOptions{Prefix: "it", DequeueTimeout: time.Second}, &logger)

	j := model.NewJob("job-1", "u1", "default", "m", "openai", "f.txt", "a: hi", "sealed")
	require.NoError(t, jobs.Create(ctx, j))

	added, err := q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	assert.False(t, added)

	env, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "job-1", env.JobID)

	scheduled, err := q.Fail(ctx, "job-1", "provider timeout", true)
	require.NoError(t, err)
	assert.True(t, scheduled)

	q.now = func() time.Time { return time.Now().Add(time.Minute) }
	require.NoError(t, q.Maintain(ctx, time.Minute))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Pending: 1}, stats)
}

func TestRateLimiter_RealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cli := setupRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(cli, "it")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, UserCommandKey("u1", "create"), 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, UserCommandKey("u1", "create"), 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
