/*
 * Copyright (c) 2026, LoadLab contributors.
 *
 * LoadLab licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loadlab/loadlab/pkg/config"
	"github.com/loadlab/loadlab/pkg/routespec"
	"github.com/loadlab/loadlab/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRoutes() map[string]config.RouteConfig {
	return map[string]config.RouteConfig{
		"health":     {Path: "/health", Method: "GET", Handler: config.HandlerStatic, Status: http.StatusOK},
		"create_app": {Path: "/apps", Method: "POST", Handler: config.HandlerAppCreate, Status: http.StatusCreated},
		"list_apps":  {Path: "/apps", Method: "GET", Handler: config.HandlerAppList, Status: http.StatusOK},
		"get_app":    {Path: "/apps/{id}", Method: "GET", Handler: config.HandlerAppGet, Status: http.StatusOK},
		"slow":       {Path: "/slow", Method: "GET", Handler: config.HandlerStatic, Status: http.StatusOK, Latency: 100 * time.Millisecond},
		"teapot":     {Path: "/teapot", Method: "GET", Handler: config.HandlerStatic, Status: http.StatusTeapot, ResponseBody: `{"short":"stout"}`},
	}
}

func newTestRouter(t *testing.T, routes map[string]config.RouteConfig) (*gin.Engine, *store.AppStore) {
	t.Helper()

	spec, err := routespec.FromConfig(routes)
	require.NoError(t, err)

	appStore := store.NewAppStore()
	dispatcher, err := NewDispatcher(spec, appStore, zap.NewNop())
	require.NoError(t, err)

	router := gin.New()
	dispatcher.Register(router)
	return router, appStore
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDispatcherRouting(t *testing.T) {
	router, _ := newTestRouter(t, testRoutes())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"known route", "GET", "/health", http.StatusOK},
		{"unknown path", "GET", "/nope", http.StatusNotFound},
		{"known path wrong method", "DELETE", "/health", http.StatusMethodNotAllowed},
		{"custom status and body", "GET", "/teapot", http.StatusTeapot},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, tc.method, tc.path, "")
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestStaticHandlerDefaultBody(t *testing.T) {
	router, _ := newTestRouter(t, testRoutes())

	w := doRequest(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())

	w = doRequest(router, "GET", "/teapot", "")
	assert.JSONEq(t, `{"short":"stout"}`, w.Body.String())
}

func TestAppCreateAndGet(t *testing.T) {
	router, appStore := newTestRouter(t, testRoutes())

	w := doRequest(router, "POST", "/apps", `{"name":"demo"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created CreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, appStore.Len())

	w = doRequest(router, "GET", "/apps/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec store.AppRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, created.ID, rec.ID)
	assert.JSONEq(t, `{"name":"demo"}`, string(rec.Payload))
}

func TestAppCreateRejectsInvalidJSON(t *testing.T) {
	router, appStore := newTestRouter(t, testRoutes())

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"truncated object", `{"name":`},
		{"plain text", "not json"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/apps", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, 0, appStore.Len(), "a rejected create must not mutate the store")
		})
	}
}

func TestAppCreateBodySchema(t *testing.T) {
	routes := testRoutes()
	create := routes["create_app"]
	create.BodySchema = `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`
	routes["create_app"] = create

	router, appStore := newTestRouter(t, routes)

	w := doRequest(router, "POST", "/apps", `{"name":"ok"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(router, "POST", "/apps", `{"name":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "POST", "/apps", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 1, appStore.Len())
}

func TestBadBodySchemaFailsConstruction(t *testing.T) {
	routes := testRoutes()
	create := routes["create_app"]
	create.BodySchema = `{"type": ["not-a-type"]}`
	routes["create_app"] = create

	spec, err := routespec.FromConfig(routes)
	require.NoError(t, err)

	_, err = NewDispatcher(spec, store.NewAppStore(), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestAppListOrder(t *testing.T) {
	router, _ := newTestRouter(t, testRoutes())

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		w := doRequest(router, "POST", "/apps", fmt.Sprintf(`{"n":%d}`, i))
		require.Equal(t, http.StatusCreated, w.Code)
		var created CreateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		ids = append(ids, created.ID)
	}

	w := doRequest(router, "GET", "/apps", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []AppSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 3)
	for i, summary := range list {
		assert.Equal(t, ids[i], summary.ID)
		assert.Equal(t, int64(i+1), summary.Seq)
	}
}

func TestAppGetUnknownID(t *testing.T) {
	router, _ := newTestRouter(t, testRoutes())

	w := doRequest(router, "GET", "/apps/7b7c2f0e-90ce-4fd3-8f8a-1db5a8ae4c7e", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatencyDoesNotBlockOtherRoutes(t *testing.T) {
	router, _ := newTestRouter(t, testRoutes())

	var wg sync.WaitGroup
	wg.Add(1)
	slowDone := make(chan time.Duration, 1)
	go func() {
		defer wg.Done()
		start := time.Now()
		w := doRequest(router, "GET", "/slow", "")
		assert.Equal(t, http.StatusOK, w.Code)
		slowDone <- time.Since(start)
	}()

	// While the slow request is parked, a fast route must answer promptly.
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	w := doRequest(router, "GET", "/health", "")
	fast := time.Since(start)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, fast, 50*time.Millisecond)

	wg.Wait()
	assert.GreaterOrEqual(t, <-slowDone, 100*time.Millisecond)
}

func TestConcurrentCreates(t *testing.T) {
	router, appStore := newTestRouter(t, testRoutes())

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := doRequest(router, "POST", "/apps", fmt.Sprintf(`{"n":%d}`, i))
			assert.Equal(t, http.StatusCreated, w.Code)
			var created CreateResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
			ids <- created.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, appStore.Len())
}
