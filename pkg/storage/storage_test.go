package storage

import (
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestNextJobIDMonotonic(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			var last int64
			for i := 0; i < 5; i++ {
				id, err := s.NextJobID()
				require.NoError(t, err)
				assert.Greater(t, id, last)
				last = id
			}
			assert.Equal(t, int64(5), last)
		})
	}
}

func TestRecords(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRecord("patrol")
			assert.True(t, errdefs.IsNotFound(err))
			assert.Contains(t, err.Error(), "there is no process for fleet patrol")

			rec := &types.FleetCorrelationRecord{
				Fleet:         "patrol",
				Configuration: "demo",
				JobID:         7,
				Instance:      "boot-1",
				Devices:       map[string]int64{"botA": 3, "botB": 9},
				CreatedAt:     time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.SaveRecord(rec))

			// the store keeps its own copy
			rec.Devices["botA"] = 100

			got, err := s.GetRecord("patrol")
			require.NoError(t, err)
			assert.Equal(t, int64(7), got.JobID)
			assert.Equal(t, int64(3), got.Devices["botA"])
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

			require.NoError(t, s.SaveRecord(&types.FleetCorrelationRecord{Fleet: "town", JobID: 1}))
			all, err := s.ListRecords()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "patrol", all[0].Fleet)
			assert.Equal(t, "town", all[1].Fleet)

			require.NoError(t, s.DeleteRecord("patrol"))
			_, err = s.GetRecord("patrol")
			assert.True(t, errdefs.IsNotFound(err))

			assert.ErrorIs(t, s.SaveRecord(&types.FleetCorrelationRecord{}), errdefs.ErrInvalid)
		})
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.NextJobID()
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveRecord(&types.FleetCorrelationRecord{Fleet: "patrol", JobID: 3}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.NextJobID()
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	rec, err := s.GetRecord("patrol")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.JobID)
}
