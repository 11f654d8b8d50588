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
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/loadlab/loadlab/pkg/api/middleware"
	"github.com/loadlab/loadlab/pkg/config"
	"github.com/loadlab/loadlab/pkg/metrics"
	"github.com/loadlab/loadlab/pkg/routespec"
	"github.com/loadlab/loadlab/pkg/store"
)

// ErrorResponse is the JSON body for failed requests
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateResponse is the JSON body for successful app creation
type CreateResponse struct {
	ID string `json:"id"`
}

// AppSummary is a single entry in the app list response
type AppSummary struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Dispatcher resolves every incoming request against the route
// specification and runs the configured handler. It is registered as a
// gin NoRoute handler so the entire HTTP surface stays data driven.
type Dispatcher struct {
	spec    *routespec.Specification
	store   *store.AppStore
	logger  *zap.Logger
	schemas map[string]*gojsonschema.Schema // route name -> compiled body schema
}

// NewDispatcher creates a dispatcher and compiles any configured request
// body schemas. A schema that does not compile is a startup failure.
func NewDispatcher(spec *routespec.Specification, appStore *store.AppStore, logger *zap.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		spec:    spec,
		store:   appStore,
		logger:  logger,
		schemas: make(map[string]*gojsonschema.Schema),
	}

	for _, route := range spec.Routes() {
		if route.BodySchema == "" {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(route.BodySchema))
		if err != nil {
			return nil, fmt.Errorf("%w: route %q: body schema does not compile: %v", config.ErrConfig, route.Name, err)
		}
		d.schemas[route.Name] = schema
	}

	return d, nil
}

// Register attaches the dispatcher to the engine
func (d *Dispatcher) Register(router *gin.Engine) {
	router.NoRoute(d.Handle)
}

// Handle resolves and serves a single request
func (d *Dispatcher) Handle(c *gin.Context) {
	m := d.spec.Match(c.Request.Method, c.Request.URL.Path)

	switch m.Kind {
	case routespec.NoMatch:
		metrics.RouteMissesTotal.WithLabelValues("no_match").Inc()
		c.JSON(http.StatusNotFound, ErrorResponse{
			Status:  "error",
			Message: "no configured route matches this path",
		})
		return
	case routespec.MethodNotAllowed:
		metrics.RouteMissesTotal.WithLabelValues("method_not_allowed").Inc()
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{
			Status:  "error",
			Message: "method not allowed for this path",
		})
		return
	}

	route := m.Route
	c.Set(middleware.RouteNameKey, route.Name)

	switch route.Handler {
	case config.HandlerAppCreate:
		d.handleAppCreate(c, route)
	case config.HandlerAppList:
		d.handleAppList(c, route)
	case config.HandlerAppGet:
		d.handleAppGet(c, route, m.Params)
	default:
		d.handleStatic(c, route)
	}
}

// delay suspends this one request for the route's configured latency.
// The suspension parks the goroutine on a timer; it never blocks other
// requests. Returns false when the client went away first.
func (d *Dispatcher) delay(c *gin.Context, route *routespec.RouteDef) bool {
	if route.Latency <= 0 {
		return true
	}

	metrics.DelayedRequestsTotal.WithLabelValues(route.Name).Inc()

	timer := time.NewTimer(route.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.Request.Context().Done():
		c.Abort()
		return false
	}
}

func (d *Dispatcher) handleStatic(c *gin.Context, route *routespec.RouteDef) {
	if !d.delay(c, route) {
		return
	}

	body := route.ResponseBody
	if body == "" {
		body = `{"message":"hello"}`
	}
	c.Data(route.Status, "application/json; charset=utf-8", []byte(body))
}

func (d *Dispatcher) handleAppCreate(c *gin.Context, route *routespec.RouteDef) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "failed to read request body"})
		return
	}

	if len(body) == 0 || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "request body must be valid JSON"})
		return
	}

	if schema, ok := d.schemas[route.Name]; ok {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "request body could not be validated"})
			return
		}
		if !result.Valid() {
			log := middleware.GetLogger(c, d.logger)
			log.Debug("Request body rejected by schema",
				zap.String("route", route.Name),
				zap.Any("violations", result.Errors()))
			c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "request body does not match the configured schema"})
			return
		}
	}

	rec := d.store.Create(json.RawMessage(body))
	metrics.AppRecordsTotal.Set(float64(d.store.Len()))

	if !d.delay(c, route) {
		return
	}

	c.JSON(http.StatusCreated, CreateResponse{ID: rec.ID})
}

func (d *Dispatcher) handleAppList(c *gin.Context, route *routespec.RouteDef) {
	if !d.delay(c, route) {
		return
	}

	records := d.store.List()
	out := make([]AppSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, AppSummary{ID: rec.ID, Seq: rec.Seq, CreatedAt: rec.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

func (d *Dispatcher) handleAppGet(c *gin.Context, route *routespec.RouteDef, params map[string]string) {
	if !d.delay(c, route) {
		return
	}

	id := params["id"]
	rec, err := d.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Status: "error", Message: "app not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Status: "error", Message: "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, rec)
}
