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

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loadlab/loadlab/pkg/metrics"
)

// Metrics returns a Gin middleware that records HTTP request metrics.
// The route label is the logical route name, so dynamically configured
// templates with path parameters do not explode label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.ConcurrentRequests.Inc()
		defer metrics.ConcurrentRequests.Dec()

		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		route := RouteName(c)

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}
