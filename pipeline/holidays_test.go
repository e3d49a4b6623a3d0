package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/load"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/sink"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/utils"
)

// newTestPipeline wires a pipeline against an in-memory bucket and warehouse,
// with the clock pinned so snapshot keys are deterministic.
func newTestPipeline(t *testing.T, settingsJSON string) *Pipeline {
	t.Helper()

	logger := testLogger()
	cfg := &config.Config{
		Extract: config.ExtractConfig{
			Timeout: 5 * time.Second,
			Backoff: config.BackoffConfig{
				RetryWaitMin: time.Millisecond,
				RetryWaitMax: 5 * time.Millisecond,
				RetryMax:     1,
			},
		},
	}

	settings, err := config.NewSettings(strings.NewReader(settingsJSON))
	require.NoError(t, err)

	db, err := load.NewDuckDB(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })

	return &Pipeline{
		Config:       cfg,
		Settings:     settings,
		Client:       extract.NewClient(cfg, logger),
		Store:        sink.NewStoreWithBucket(bucket, logger),
		DuckDB:       db,
		Logger:       logger,
		timeProvider: utils.FixedTimeProvider{Time: time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
}

func listKeys(t *testing.T, bucket *blob.Bucket, prefix string) []string {
	t.Helper()

	var keys []string
	it := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(context.Background())
		if err != nil {
			break
		}
		keys = append(keys, obj.Key)
	}
	return keys
}

// holidayServer serves nager.at-shaped responses for 2023 and 2024. The 2023
// payload carries a duplicated Christmas entry, an NI-only holiday and Saint
// Patrick's Day to exercise dedup and county filtering.
func holidayServer(t *testing.T) *httptest.Server {
	t.Helper()

	responses := map[string]string{
		"/2023/GB": `[
			{"date": "2023-12-25", "localName": "Christmas Day", "name": "Christmas Day"},
			{"date": "2023-12-25", "localName": "Christmas Day", "name": "Christmas Day"},
			{"date": "2023-03-17", "localName": "Saint Patrick's Day", "name": "Saint Patrick's Day", "counties": ["GB-NIR"]},
			{"date": "2023-07-12", "localName": "Battle of the Boyne", "name": "Battle of the Boyne", "counties": ["GB-NIR"]}
		]`,
		"/2024/GB": `[
			{"date": "2024-12-25", "localName": "Christmas Day", "name": "Christmas Day", "counties": ["GB-ENG", "GB-WLS"]}
		]`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func holidaySettingsJSON(serverURL, extra string) string {
	return fmt.Sprintf(`{
		"pipeline": "holidays",
		"endpoint": {
			"url": "%s/{{year}}/{{country}}",
			"params": {"country": "GB"}
		},
		"start_year": 2023,
		"schema": [
			{"name": "date", "type": "date", "primary_key": true},
			{"name": "name", "type": "string", "primary_key": true}
		],
		"warehouse": {"table": "holidays.holidays"}%s
	}`, serverURL, extra)
}

func TestHolidaysPipeline(t *testing.T) {
	server := holidayServer(t)
	p := newTestPipeline(t, holidaySettingsJSON(server.URL, ""))

	require.NoError(t, p.Run(context.Background()))

	// The duplicate collapses and NI-only holidays are excluded, except
	// Saint Patrick's Day.
	results, err := p.DuckDB.GetQueryResults("SELECT name FROM holidays.holidays ORDER BY date")
	require.NoError(t, err)
	assert.Equal(t, []string{"Saint Patrick's Day", "Christmas Day", "Christmas Day"}, results["name"])

	// Both snapshots landed in the bucket under the pinned run timestamp.
	rawKeys := listKeys(t, p.Store.Bucket, "raw/holidays/")
	require.Len(t, rawKeys, 1)
	assert.True(t, strings.HasPrefix(rawKeys[0], "raw/holidays/2023-06-01T09-00-00_"), "key %s", rawKeys[0])
	assert.True(t, strings.HasSuffix(rawKeys[0], "/holidays.json"), "key %s", rawKeys[0])

	cleanKeys := listKeys(t, p.Store.Bucket, "processed/holidays/")
	require.Len(t, cleanKeys, 1)
	assert.True(t, strings.HasSuffix(cleanKeys[0], "/snapshot.csv"), "key %s", cleanKeys[0])

	// The raw snapshot is the responses exactly as fetched.
	raw, err := p.Store.Bucket.ReadAll(context.Background(), rawKeys[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Battle of the Boyne")
}

func TestHolidaysPipelineRangeFilter(t *testing.T) {
	server := holidayServer(t)
	extra := `,
		"valid_range": {"column": "date", "start": "2023-01-01", "end": "2023-12-31"}`
	p := newTestPipeline(t, holidaySettingsJSON(server.URL, extra))

	require.NoError(t, p.Run(context.Background()))

	results, err := p.DuckDB.GetQueryResults("SELECT count(*) AS n FROM holidays.holidays")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, results["n"])
}

func TestHolidaysPipelineFailsWithoutStartYear(t *testing.T) {
	server := holidayServer(t)
	doc := strings.Replace(
		holidaySettingsJSON(server.URL, ""),
		`"start_year": 2023,`, "", 1,
	)
	p := newTestPipeline(t, doc)

	err := p.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "download", stageErr.Stage)
}

func TestStagesRejectsUnknownPipeline(t *testing.T) {
	p := &Pipeline{Settings: &config.Settings{Pipeline: "nope"}}
	_, err := p.Stages()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pipeline "nope"`)
}
