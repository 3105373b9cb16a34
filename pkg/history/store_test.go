package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "indicam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 22, 15, 0, 0, time.UTC)

	id, err := s.Add(Record{
		RunID:    "5f0c",
		Server:   "localhost:7624",
		Device:   "QHY CCD QHY268M-b93fd94",
		Start:    start,
		End:      start.Add(1500 * time.Millisecond),
		Settings: map[string]float64{"CCD_GAIN": 56, "CCD_OFFSET": 20, "READ_MODE": 5},
		Exposure: 1,
		Output:   "image.fits",
		Size:     2880,
		Format:   ".fits",
		Status:   StatusOK,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	r, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "5f0c", r.RunID)
	assert.Equal(t, 56.0, r.Settings["CCD_GAIN"])
	assert.Equal(t, 1500*time.Millisecond, r.Duration())
	assert.True(t, start.Equal(r.Start))

	_, err = s.Get(42)
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for _, run := range []string{"a", "b", "c", "d"} {
		_, err := s.Add(Record{RunID: run, Status: StatusOK})
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		n        int
		expected []string
	}{
		{name: "All", n: 0, expected: []string{"d", "c", "b", "a"}},
		{name: "Latest two", n: 2, expected: []string{"d", "c"}},
		{name: "More than stored", n: 10, expected: []string{"d", "c", "b", "a"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := s.List(tc.n)
			require.NoError(t, err)

			var runs []string
			for _, r := range records {
				runs = append(runs, r.RunID)
			}
			assert.Equal(t, tc.expected, runs)
		})
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indicam.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Add(Record{RunID: "first", Status: StatusFailed, Error: "timeout waiting for device properties"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Add(Record{RunID: "second", Status: StatusOK})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	records, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "timeout waiting for device properties", records[1].Error)
}
