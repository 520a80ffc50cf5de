package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/logger"
)

type countingPruner struct {
	calls     atomic.Int32
	retention atomic.Int64
}

func (p *countingPruner) Prune(retention time.Duration) int {
	p.calls.Add(1)
	p.retention.Store(int64(retention))
	return 1
}

type countingRebuilder struct {
	calls atomic.Int32
	err   error
}

func (r *countingRebuilder) Rebuild(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestNewMaintenanceScheduler_Jobs(t *testing.T) {
	tests := []struct {
		name    string
		pruner  DeliveryPruner
		catalog CatalogRebuilder
		refresh string
		want    int
	}{
		{"nothing", nil, nil, "", 0},
		{"prune only", &countingPruner{}, nil, "", 1},
		{"catalog without spec", nil, &countingRebuilder{}, "", 0},
		{"both", &countingPruner{}, &countingRebuilder{}, "@hourly", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewMaintenanceScheduler(tt.pruner, tt.catalog,
				MaintenanceSchedulerConfig{RefreshSpec: tt.refresh}, logger.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Jobs())
		})
	}
}

func TestNewMaintenanceScheduler_InvalidSpec(t *testing.T) {
	_, err := NewMaintenanceScheduler(&countingPruner{}, nil,
		MaintenanceSchedulerConfig{PruneSpec: "not a schedule"}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewMaintenanceScheduler(nil, &countingRebuilder{},
		MaintenanceSchedulerConfig{RefreshSpec: "61 * * * *"}, logger.NewNop())
	assert.Error(t, err)
}

func TestMaintenanceScheduler_Runs(t *testing.T) {
	pruner := &countingPruner{}
	catalog := &countingRebuilder{err: errors.New("provider down")}
	s, err := NewMaintenanceScheduler(pruner, catalog, MaintenanceSchedulerConfig{
		PruneSpec:   "@every 1s",
		RefreshSpec: "@every 1s",
		Retention:   time.Hour,
	}, logger.NewNop())
	require.NoError(t, err)

	s.Start()
	s.Start() // idempotent
	require.Eventually(t, func() bool {
		return pruner.calls.Load() > 0 && catalog.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)

	assert.Equal(t, int64(time.Hour), pruner.retention.Load())
}
