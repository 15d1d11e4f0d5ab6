package services

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreakers() *CircuitBreakerService {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCircuitBreakerService(5, time.Minute, logger)
}

func TestCircuitBreaker_PassesThroughSuccess(t *testing.T) {
	cb := newTestBreakers()

	result, err := cb.Execute("balldontlie", func() (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, gobreaker.StateClosed, cb.GetState("balldontlie"))
}

func TestCircuitBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	cb := newTestBreakers()
	boom := errors.New("boom")

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := cb.Execute("balldontlie", func() (interface{}, error) {
			calls++
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.GetState("balldontlie"))

	// The open breaker rejects without invoking the function.
	_, err := cb.Execute("balldontlie", func() (interface{}, error) {
		calls++
		return "ok", nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, calls)

	// Breakers are independent per service.
	assert.Equal(t, gobreaker.StateClosed, cb.GetState("yahoo"))
}

func TestCircuitBreaker_UnknownServiceExecutesUnprotected(t *testing.T) {
	cb := newTestBreakers()

	result, err := cb.Execute("espn", func() (interface{}, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, gobreaker.StateClosed, cb.GetState("espn"))
}

func TestCircuitBreaker_CountsFailures(t *testing.T) {
	cb := newTestBreakers()

	_, _ = cb.Execute("yahoo", func() (interface{}, error) {
		return nil, errors.New("boom")
	})

	counts := cb.GetCounts("yahoo")
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, gobreaker.Counts{}, cb.GetCounts("espn"))
}
