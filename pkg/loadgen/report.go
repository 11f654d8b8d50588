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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loadlab/loadlab/pkg/stats"
)

// Output formats for the final report.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// WriteReport renders a final snapshot in the requested format.
func WriteReport(w io.Writer, snap stats.Snapshot, endpointOrder []string, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatText:
		return writeTextReport(w, snap, endpointOrder)
	default:
		return fmt.Errorf("%w: unknown report format %q", ErrWorkload, format)
	}
}

func writeTextReport(w io.Writer, snap stats.Snapshot, endpointOrder []string) error {
	fmt.Fprintf(w, "Run summary (elapsed %s)\n\n", snap.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "endpoint\tcount\terrors\terr%\trps\tmean\tp50\tp90\tp95\tp99\tmax")
	writeRow(tw, "TOTAL", snap.Overall)
	for _, name := range endpointOrder {
		g, ok := snap.Endpoints[name]
		if !ok {
			continue
		}
		writeRow(tw, name, g)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(snap.Overall.Kinds) > 0 {
		fmt.Fprintln(w, "\nOutcomes:")
		for _, kind := range []string{"ok", "http_error", "network_error", "timeout", "overload", "cancelled"} {
			if n, ok := snap.Overall.Kinds[kind]; ok {
				fmt.Fprintf(w, "  %-14s %d\n", kind, n)
			}
		}
	}
	return nil
}

func writeRow(tw *tabwriter.Writer, name string, g stats.GroupStats) {
	fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.1f\t%s\t%s\t%s\t%s\t%s\t%s\n",
		name, g.Count, g.Errors, g.ErrorRate*100, g.Throughput,
		fmtDur(g.Mean), fmtDur(g.P50), fmtDur(g.P90), fmtDur(g.P95), fmtDur(g.P99), fmtDur(g.Max))
}

func fmtDur(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(10 * time.Microsecond).String()
}
