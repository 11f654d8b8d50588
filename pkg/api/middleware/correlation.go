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
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// CorrelationIDHeader is the HTTP header name for correlation ID
	CorrelationIDHeader = "X-Correlation-ID"
	// CorrelationIDKey is the Gin context key for correlation ID
	CorrelationIDKey = "correlation_id"
	// LoggerKey is the Gin context key for the correlation-aware logger
	LoggerKey = "logger"
	// RouteNameKey is the Gin context key the dispatcher fills with the
	// matched logical route name, for logging and metrics labels
	RouteNameKey = "route_name"
)

// CorrelationID creates a middleware that handles correlation ID tracking.
// It reuses an incoming X-Correlation-ID header when present (header names
// are case-insensitive per HTTP/1.1), otherwise generates a fresh UUID,
// stores it in the Gin context, echoes it on the response, and derives a
// logger carrying the id for downstream handlers.
func CorrelationID(baseLogger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(LoggerKey, baseLogger.With(zap.String("correlation_id", correlationID)))
		c.Header(CorrelationIDHeader, correlationID)

		c.Next()
	}
}

// GetLogger retrieves the correlation-aware logger from the Gin context,
// falling back to the provided logger when absent.
func GetLogger(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if logger, exists := c.Get(LoggerKey); exists {
		if l, ok := logger.(*zap.Logger); ok {
			return l
		}
	}
	return fallback
}

// GetCorrelationID retrieves the correlation ID from the Gin context.
// Returns empty string if not found.
func GetCorrelationID(c *gin.Context) string {
	if correlationID, exists := c.Get(CorrelationIDKey); exists {
		if id, ok := correlationID.(string); ok {
			return id
		}
	}
	return ""
}

// RouteName retrieves the matched logical route name from the Gin context.
// Returns "unmatched" for requests that resolved to no configured route.
func RouteName(c *gin.Context) string {
	if name, exists := c.Get(RouteNameKey); exists {
		if n, ok := name.(string); ok {
			return n
		}
	}
	return "unmatched"
}
