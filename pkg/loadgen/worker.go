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

package loadgen

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/loadlab/loadlab/pkg/stats"
)

// task is one request ready to issue.
type task struct {
	endpoint *Endpoint
	seq      int64
}

// execute sends one request and classifies the result. Exactly one
// outcome is produced per task.
func execute(ctx context.Context, client *http.Client, baseURL string, t task) stats.Outcome {
	out := stats.Outcome{Endpoint: t.endpoint.Name}

	url := strings.TrimRight(baseURL, "/") + t.endpoint.Path

	var body io.Reader
	if t.endpoint.Payload != "" {
		body = strings.NewReader(RenderPayload(t.endpoint.Payload, t.seq))
	}

	req, err := http.NewRequestWithContext(ctx, t.endpoint.Method, url, body)
	if err != nil {
		out.Kind = stats.NetworkError
		return out
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	out.Latency = time.Since(start)

	if err != nil {
		out.Kind = classifyError(err)
		return out
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	out.Status = resp.StatusCode
	if resp.StatusCode < 400 {
		out.Kind = stats.OK
	} else {
		out.Kind = stats.HTTPError
	}
	return out
}

func classifyError(err error) stats.Kind {
	if errors.Is(err, context.Canceled) {
		return stats.Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stats.Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return stats.Timeout
	}
	return stats.NetworkError
}
