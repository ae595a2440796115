package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	events   *[]string
	startErr error
}

func (s recordingService) Name() string { return s.name }

func (s recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(recordingService{name: "b", events: &events}))
	require.Error(t, m.Register(recordingService{name: "a", events: &events}))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.Error(t, m.Register(NoopService{ServiceName: "late"}))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))

	require.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(recordingService{name: "b", events: &events, startErr: boom}))
	require.NoError(t, m.Register(recordingService{name: "c", events: &events}))

	err := m.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"start:a", "stop:a"}, events)
}
