package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kzinmr/jobpoll/internal/poll"
	"github.com/kzinmr/jobpoll/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "3f0c2a9e-4b1d-4c55-9a53-6f1f8d1b2c3d"

// fakeAPI answers submit with testJobID and the status route from statuses,
// advancing one entry per call and repeating the last.
func fakeAPI(t *testing.T, statuses ...string) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks/analyze":
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"data":{"job_id":"` + testJobID + `"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/"+testJobID:
			i := int(calls.Add(1)) - 1
			if i >= len(statuses) {
				i = len(statuses) - 1
			}
			w.Write([]byte(`{"data":` + statuses[i] + `}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRun_Success(t *testing.T) {
	ts := fakeAPI(t,
		`{"state":"PENDING","current":0,"total":1,"status":"Pending..."}`,
		`{"state":"SUCCESS","current":1,"total":1,"status":"","result":{"kind":"analyze","analyzed_items":10,"anomalies_detected":1,"processing_time":0.5}}`,
	)
	var out bytes.Buffer

	code := run(context.Background(), []string{"-addr", ts.URL, "-size", "10"}, &out)

	assert.Equal(t, exitOK, code, out.String())
	assert.Contains(t, out.String(), "submitted job "+testJobID)
	assert.Contains(t, out.String(), `"analyzed_items": 10`)
}

func TestRun_JobFailure(t *testing.T) {
	ts := fakeAPI(t, `{"state":"FAILURE","current":1,"total":1,"status":"decode params: bad"}`)
	var out bytes.Buffer

	code := run(context.Background(), []string{"-addr", ts.URL}, &out)

	assert.Equal(t, exitFailed, code)
	assert.Contains(t, out.String(), "decode params: bad")
}

func TestRun_ExistingJob(t *testing.T) {
	ts := fakeAPI(t, `{"state":"FAILURE","current":1,"total":1,"status":"boom"}`)
	var out bytes.Buffer

	code := run(context.Background(), []string{"-addr", ts.URL, "-job", testJobID}, &out)

	assert.Equal(t, exitFailed, code)
	assert.NotContains(t, out.String(), "submitted")
}

func TestRun_BadFlags(t *testing.T) {
	assert.Equal(t, exitUsage, run(context.Background(), []string{"-size", "-3"}, io.Discard))
	assert.Equal(t, exitUsage, run(context.Background(), []string{"-nope"}, io.Discard))
}

func TestRun_SubmitUnreachable(t *testing.T) {
	code := run(context.Background(), []string{"-addr", "http://127.0.0.1:1", "-http-timeout", "1s"}, io.Discard)
	assert.Equal(t, exitFailed, code)
}

func TestReport_Timeout(t *testing.T) {
	var out bytes.Buffer
	err := &poll.TimeoutError{JobID: testJobID, Elapsed: 3 * time.Second, Last: models.Running(2, 5, "x")}

	code := report(&out, testJobID, models.JobState{}, err)

	assert.Equal(t, exitTimeout, code)
	assert.Contains(t, out.String(), "timed out after 3s")
	assert.Contains(t, out.String(), "-job "+testJobID)
}

func TestProgressPrinter_SkipsRepeats(t *testing.T) {
	var out bytes.Buffer
	show := progressPrinter(&out)

	show(models.Pending())
	show(models.Pending())
	show(models.Running(1, 5, "Loading dataset"))
	show(models.Running(1, 5, "Loading dataset"))
	show(models.Running(2, 5, "Cleaning records"))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "[2/5] PROGRESS Cleaning records", string(lines[2]))
}
