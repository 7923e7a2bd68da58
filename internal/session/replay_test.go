package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osmcloud/auth-gateway/internal/session"
)

func TestReplayGuard_MarkUsed(t *testing.T) {
	guard := session.NewReplayGuard(time.Minute)

	assert.True(t, guard.MarkUsed("state-a"))
	assert.False(t, guard.MarkUsed("state-a"))
	assert.True(t, guard.MarkUsed("state-b"))
}

func TestReplayGuard_ConcurrentFirstUse(t *testing.T) {
	guard := session.NewReplayGuard(time.Minute)

	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for range attempts {
		wg.Go(func() {
			results <- guard.MarkUsed("contested-state")
		})
	}

	wg.Wait()
	close(results)

	var wins int
	for ok := range results {
		if ok {
			wins++
		}
	}

	assert.Equal(t, 1, wins)
}
