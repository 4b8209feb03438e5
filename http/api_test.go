package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"webup/borgmon"
	"webup/borgmon/auth"
	"webup/borgmon/bolt"
	"webup/borgmon/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "k0000000000000000000000000000000"

type testServer struct {
	handler  http.Handler
	settings borgmon.Settings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	settings := borgmon.NewDefaultSettings()
	settings.DataDir = t.TempDir()
	settings.ConfigDir = t.TempDir()
	settings.Auth.Password = "hunter2"
	settings.Auth.SecretFilepath = filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, auth.EnsureSecret(settings.Auth.SecretFilepath))

	spec := fmt.Sprintf("job_id: db\ndisplay_name: Database\ntags:\n  - prod\napi_keys:\n  - %s\n", testKey)
	require.NoError(t, os.WriteFile(filepath.Join(settings.ConfigDir, "db.yml"), []byte(spec), 0644))

	ctx := borgmon.NewContextWithSettings(context.Background(), settings)
	tasks.UpdateJobsFromSpec(ctx)

	storage, err := bolt.GetStorage(settings)
	require.NoError(t, err)
	t.Cleanup(storage.Cleanup)

	api := &HTTPApi{}
	return &testServer{handler: api.Handler(ctx), settings: settings}
}

func (s *testServer) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", `{"username": "admin", "password": "hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "bearer", resp.TokenType)
	return resp.AccessToken
}

func (s *testServer) pushEvent(t *testing.T, eventType, message string) {
	t.Helper()

	body := fmt.Sprintf(`{"job_id": "db", "type": %q, "message": %q}`, eventType, message)
	rec := s.do(t, http.MethodPost, "/api/push/event", testKey, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)

	rec := server.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestLogin(t *testing.T) {
	t.Run("valid credentials yield a usable token", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		rec := server.do(t, http.MethodPost, "/api/auth/verify", token, "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["valid"])
		assert.Equal(t, "admin", resp["user"])
	})

	t.Run("wrong credentials are rejected", func(t *testing.T) {
		server := newTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/auth/login", "", `{"username": "admin", "password": "nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unparseable payload is a bad request", func(t *testing.T) {
		server := newTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/auth/login", "", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionRequired(t *testing.T) {
	server := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs", "garbage", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("push API key is not a session token", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs", testKey, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPushEndpoint(t *testing.T) {
	t.Run("valid push is accepted", func(t *testing.T) {
		server := newTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/push/event", testKey, `{"job_id": "db", "type": "start", "message": "backup started"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp tasks.PushResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "db", resp.JobID)
	})

	t.Run("rejected push leaves no trace", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		rec := server.do(t, http.MethodPost, "/api/push/event", "wrong-key", `{"job_id": "db", "type": "start", "message": "backup started"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = server.do(t, http.MethodGet, "/api/jobs/db/events", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var page struct {
			Items []json.RawMessage `json:"items"`
			Total int               `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 0, page.Total)
	})

	t.Run("unknown job is a 404, not a new job", func(t *testing.T) {
		server := newTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/push/event", testKey, `{"job_id": "ghost", "type": "start", "message": "hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown event type is a 400", func(t *testing.T) {
		server := newTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/push/event", testKey, `{"job_id": "db", "type": "explode", "message": "hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJobEndpoints(t *testing.T) {
	t.Run("job list reflects pushed events", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		server.pushEvent(t, "start", "backup started")
		server.pushEvent(t, "success", "backup finished")

		rec := server.do(t, http.MethodGet, "/api/jobs", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var jobs []struct {
			JobID          string `json:"jobId"`
			Name           string `json:"name"`
			Status         string `json:"status"`
			ScheduleStatus string `json:"scheduleStatus"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, "db", jobs[0].JobID)
		assert.Equal(t, "Database", jobs[0].Name)
		assert.Equal(t, "success", jobs[0].Status)
		assert.Equal(t, "on-time", jobs[0].ScheduleStatus)
	})

	t.Run("job detail carries the extra fields", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		rec := server.do(t, http.MethodGet, "/api/jobs/db", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var job struct {
			JobID      string `json:"jobId"`
			BackupType string `json:"backupType"`
			MaxAge     string `json:"maxAge"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, "db", job.JobID)
		assert.Equal(t, "borgmatic", job.BackupType)
		assert.Equal(t, "24h", job.MaxAge)
	})

	t.Run("unknown job is a 404", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		rec := server.do(t, http.MethodGet, "/api/jobs/ghost", token, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("events are newest first and paginated", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		server.pushEvent(t, "start", "first")
		server.pushEvent(t, "log", "second")
		server.pushEvent(t, "success", "third")

		rec := server.do(t, http.MethodGet, "/api/jobs/db/events?limit=2", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Items []struct {
				Message string `json:"message"`
			} `json:"items"`
			Total      int  `json:"total"`
			HasMore    bool `json:"hasMore"`
			NextOffset *int `json:"nextOffset"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Items, 2)
		assert.Equal(t, "third", page.Items[0].Message)
		assert.Equal(t, "second", page.Items[1].Message)
		assert.Equal(t, 3, page.Total)
		assert.True(t, page.HasMore)
		require.NotNil(t, page.NextOffset)
		assert.Equal(t, 2, *page.NextOffset)
	})

	t.Run("event info pages the stored body", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		body := `{"job_id": "db", "type": "log", "message": "with body", "info": "l1\nl2\nl3"}`
		rec := server.do(t, http.MethodPost, "/api/push/event", testKey, body)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = server.do(t, http.MethodGet, "/api/jobs/db/events/1/info?limit=2", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Lines      []string `json:"lines"`
			TotalLines int      `json:"totalLines"`
			HasMore    bool     `json:"hasMore"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, []string{"l1", "l2"}, page.Lines)
		assert.Equal(t, 3, page.TotalLines)
		assert.True(t, page.HasMore)
	})

	t.Run("missing event body is a 404", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		server.pushEvent(t, "start", "no body")

		rec := server.do(t, http.MethodGet, "/api/jobs/db/events/1/info", token, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("sync replays the log", func(t *testing.T) {
		server := newTestServer(t)
		token := server.login(t)

		server.pushEvent(t, "start", "backup started")
		server.pushEvent(t, "failed", "borg exited 2")

		rec := server.do(t, http.MethodPost, "/api/jobs/db/sync", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var result struct {
			Success         bool   `json:"success"`
			EventsProcessed int    `json:"events_processed"`
			FinalStatus     string `json:"final_status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.EventsProcessed)
		assert.Equal(t, "failed", result.FinalStatus)
	})
}

func TestArchiveEndpoint(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)

	info := `{
		"job_id": "db",
		"info_data": {
			"repository": {"location": "ssh://backup/./repo"},
			"cache": {"stats": {"total_size": 2048, "total_csize": 1024, "unique_size": 512}},
			"archives": [
				{"name": "db-old", "start": "2026-03-13T02:00:00", "stats": {"original_size": 1024, "compressed_size": 512, "deduplicated_size": 256}},
				{"name": "db-new", "start": "2026-03-14T02:00:00", "stats": {"original_size": 2048, "compressed_size": 1024, "deduplicated_size": 512}}
			]
		}
	}`
	rec := server.do(t, http.MethodPost, "/api/push/borgmatic/info", testKey, info)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("default listing is newest first, sizes humanized", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs/db/archives", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Items []struct {
				Name         string `json:"name"`
				OriginalSize string `json:"originalSize"`
			} `json:"items"`
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Items, 2)
		assert.Equal(t, "db-new", page.Items[0].Name)
		assert.Equal(t, "2.0 KB", page.Items[0].OriginalSize)
		assert.Equal(t, "db-old", page.Items[1].Name)
	})

	t.Run("sort by name ascending", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs/db/archives?sort_by=name&sort_order=asc", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var page struct {
			Items []struct {
				Name string `json:"name"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Items, 2)
		assert.Equal(t, "db-new", page.Items[0].Name)
	})

	t.Run("unknown sort field is a 400", func(t *testing.T) {
		rec := server.do(t, http.MethodGet, "/api/jobs/db/archives?sort_by=color", token, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChartEndpoint(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)

	server.pushEvent(t, "start", "backup started")
	server.pushEvent(t, "success", "backup finished")

	rec := server.do(t, http.MethodGet, "/api/charts?type=backup-status", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var chart struct {
		Success   bool `json:"success"`
		Data      []struct {
			Name  string `json:"name"`
			Value int    `json:"value"`
		} `json:"data"`
		TotalJobs int `json:"total_jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chart))
	assert.True(t, chart.Success)
	assert.Equal(t, 1, chart.TotalJobs)
	require.NotEmpty(t, chart.Data)
	assert.Equal(t, "success", chart.Data[0].Name)
	assert.Equal(t, 1, chart.Data[0].Value)

	rec = server.do(t, http.MethodGet, "/api/charts?type=backup-weather", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSplitTags(t *testing.T) {
	assert.Nil(t, splitTags(""))
	assert.Equal(t, []string{"prod"}, splitTags("prod"))
	assert.Equal(t, []string{"prod", "nightly"}, splitTags("prod, nightly"))
	assert.Equal(t, []string{"prod"}, splitTags("prod,,"))
}

func TestIntParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=-3&bad=x", nil)

	assert.Equal(t, 100, intParam(req, "limit", 15, 100), "capped at max")
	assert.Equal(t, 0, intParam(req, "offset", 0, 0), "negative falls back")
	assert.Equal(t, 15, intParam(req, "bad", 15, 100), "unparseable falls back")
	assert.Equal(t, 15, intParam(req, "missing", 15, 100))
}
