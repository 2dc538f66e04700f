package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/dicomstore/pkg/changefeed"
	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dicom",
				"POSTGRES_PASSWORD": "dicom",
				"POSTGRES_DB":       "dicom",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://dicom:dicom@%s:%s/dicom?sslmode=disable", host, port.Port())
}

func dataset(study, series, sop string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddString(dicom.StudyInstanceUID, study)
	ds.AddString(dicom.SeriesInstanceUID, series)
	ds.AddString(dicom.SOPInstanceUID, sop)
	ds.AddString(dicom.PatientID, "PID-1")
	ds.AddString(dicom.PatientName, "Doe^John")
	ds.AddString(dicom.StudyDate, "20210601")
	ds.AddString(dicom.Modality, "CT")
	return ds
}

func TestStoreLifecycle(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()
	now := time.Date(2021, time.June, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(ctx, url, WithCleanupDelay(time.Minute), WithClock(func() time.Time { return now.Add(time.Hour) }))
	require.NoError(t, err)
	defer s.Close()

	ds := dataset("1.2", "1.2.3", "1.2.3.4")
	v1, err := s.CreateInstanceIndex(ctx, ds)
	require.NoError(t, err)

	_, err = s.CreateInstanceIndex(ctx, ds)
	require.ErrorIs(t, err, store.ErrInstanceAlreadyExists)

	ids, err := s.GetInstanceIdentifiers(ctx, "1.2", "", "")
	require.NoError(t, err)
	assert.Empty(t, ids, "creating rows are not visible")

	id := ds.ToVersionedInstanceIdentifier(v1)
	require.NoError(t, s.UpdateInstanceIndexStatus(ctx, id, store.IndexStatusCreated))

	ids, err = s.GetInstanceIdentifiers(ctx, "1.2", "1.2.3", "")
	require.NoError(t, err)
	assert.Equal(t, []dicom.VersionedInstanceIdentifier{id}, ids)

	found, err := s.Query(ctx, &query.QueryExpression{
		Resource: query.AllStudies,
		Filters: []query.FilterCondition{
			query.PersonNameFuzzyMatchCondition{Attribute: dicom.PatientName, Value: "joh"},
		},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []dicom.VersionedInstanceIdentifier{id}, found)

	feed, err := s.ReadChangeFeed(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, changefeed.ActionCreate, feed[0].Entry.Action)
	assert.Equal(t, changefeed.StateCurrent, feed[0].Entry.State)
	assert.Equal(t, v1, feed[0].OriginalVersion)
	require.NotNil(t, feed[0].CurrentVersion)
	assert.Equal(t, v1, *feed[0].CurrentVersion)

	require.NoError(t, s.DeleteInstanceIndex(ctx, "1.2", "", "", now))
	require.ErrorIs(t, s.DeleteInstanceIndex(ctx, "1.2", "", "", now), store.ErrInstanceNotFound)

	feed, err = s.ReadChangeFeed(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, changefeed.StateDeleted, feed[0].Entry.State)
	assert.Equal(t, changefeed.ActionDelete, feed[1].Entry.Action)
	assert.Equal(t, changefeed.StateDeleted, feed[1].Entry.State)
	assert.Nil(t, feed[1].CurrentVersion)

	latest, err := s.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, feed[1].Entry.Sequence, latest)

	due, err := s.RetrieveDeletedInstances(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].Identifier)
	assert.True(t, due[0].CleanupAfter.Equal(now.Add(time.Minute)))

	retries, err := s.IncrementDeletedInstanceRetry(ctx, id, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	due, err = s.RetrieveDeletedInstances(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, due, "rescheduled rows are not due")

	require.NoError(t, s.DeleteDeletedInstance(ctx, id))
	_, err = s.IncrementDeletedInstanceRetry(ctx, id, now)
	assert.ErrorIs(t, err, store.ErrInstanceNotFound)

	// Storing the same identity again allocates a newer version and replaces older entries.
	v2, err := s.CreateInstanceIndex(ctx, ds)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
	require.NoError(t, s.UpdateInstanceIndexStatus(ctx, ds.ToVersionedInstanceIdentifier(v2), store.IndexStatusCreated))

	feed, err = s.ReadChangeFeed(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	assert.Equal(t, changefeed.StateReplaced, feed[0].Entry.State)
	assert.Equal(t, changefeed.StateCurrent, feed[2].Entry.State)
	for _, rec := range feed {
		require.NotNil(t, rec.CurrentVersion)
		assert.Equal(t, v2, *rec.CurrentVersion, "every entry points at the re-stored revision")
	}

	feed, err = s.ReadChangeFeed(ctx, feed[1].Entry.Sequence, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestDeleteCreatingRowSkipsChangeFeed(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateInstanceIndex(ctx, dataset("1.5", "1.5.6", "1.5.6.7"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteInstanceIndex(ctx, "1.5", "1.5.6", "1.5.6.7", time.Now()))

	feed, err := s.ReadChangeFeed(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestUpdateStatusMissingRow(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	id := dicom.VersionedInstanceIdentifier{StudyInstanceUID: "9.9", SeriesInstanceUID: "9.9.9", SOPInstanceUID: "9.9.9.9", Version: 1}
	err = s.UpdateInstanceIndexStatus(ctx, id, store.IndexStatusCreated)
	assert.ErrorIs(t, err, store.ErrInstanceNotFound)
}

func TestChangeFeedConcurrentWritersKeepCursorComplete(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	const instances = 40
	done := make(chan struct{})

	var writers errgroup.Group
	writers.SetLimit(8)
	for i := 0; i < instances; i++ {
		ds := dataset("1.8", "1.8.1", fmt.Sprintf("1.8.1.%d", i))
		writers.Go(func() error {
			v, err := s.CreateInstanceIndex(ctx, ds)
			if err != nil {
				return err
			}
			return s.UpdateInstanceIndexStatus(ctx, ds.ToVersionedInstanceIdentifier(v), store.IndexStatusCreated)
		})
	}
	go func() {
		_ = writers.Wait()
		close(done)
	}()

	// Page the feed by last seen sequence while writers commit, the way the
	// sync processor does.
	seen := make(map[string]bool)
	var cursor int64
	readPage := func() {
		page, err := s.ReadChangeFeed(ctx, cursor, 5)
		require.NoError(t, err)
		for _, rec := range page {
			assert.Greater(t, rec.Entry.Sequence, cursor)
			cursor = rec.Entry.Sequence
			seen[rec.Entry.SOPInstanceUID] = true
		}
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			readPage()
		}
	}
	require.NoError(t, writers.Wait())
	for i := 0; i <= instances/5; i++ {
		readPage()
	}

	assert.Len(t, seen, instances, "cursor reader missed entries")
}
