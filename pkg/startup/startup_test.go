package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func TestStartupOrdersDependencies(t *testing.T) {
	var started, stopped []string
	record := func(name string) *Dependency {
		return &Dependency{
			Name:      name,
			StartFunc: func(context.Context) error { started = append(started, name); return nil },
			StopFunc:  func(context.Context) error { stopped = append(stopped, name); return nil },
		}
	}

	s := NewStartup(silentLogger(), 1)
	server := record("server")
	server.Requires = []string{"redis", "graph"}
	s.AddDependency(server)
	s.AddDependency(record("redis"))
	s.AddDependency(record("graph"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"redis", "graph", "server"}, started)
	assert.Equal(t, StartupStatusStarted, s.Status("server"))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"server", "graph", "redis"}, stopped)
}

func TestStartupRetries(t *testing.T) {
	attempts := 0
	s := NewStartup(silentLogger(), 3)
	s.backoffUnit = time.Millisecond
	s.AddDependency(&Dependency{
		Name: "flaky",
		StartFunc: func(context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("not ready")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, attempts)
}

func TestStartupGivesUp(t *testing.T) {
	s := NewStartup(silentLogger(), 2)
	s.backoffUnit = time.Millisecond
	s.AddDependency(&Dependency{
		Name:      "down",
		StartFunc: func(context.Context) error { return errors.New("connection refused") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("down"))
}

func TestStartupUnknownDependency(t *testing.T) {
	s := NewStartup(silentLogger(), 1)
	s.AddDependency(&Dependency{Name: "server", Requires: []string{"missing"}})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dependency 'missing'")
}
