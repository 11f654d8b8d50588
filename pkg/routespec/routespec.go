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

// Package routespec turns the configured route table into an immutable
// specification and resolves incoming requests against it. Routing is
// entirely data driven; the specification is validated exhaustively at
// startup so matching can never be ambiguous at runtime.
package routespec

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/loadlab/loadlab/pkg/config"
)

// ErrSpec is wrapped by every route specification build failure.
var ErrSpec = errors.New("invalid route specification")

// paramName matches the name inside a {param} placeholder segment.
var paramName = regexp.MustCompile(`^\{([a-zA-Z0-9_]+)\}$`)

// RouteDef is a single configured route. Built once at startup, never mutated.
type RouteDef struct {
	// Name is the logical route name from configuration.
	Name string

	// Method is the upper-cased HTTP method.
	Method string

	// Template is the path template with {param} placeholders.
	Template string

	// Latency is the artificial delay applied before responding.
	Latency time.Duration

	// Handler is the handler kind for this route.
	Handler string

	// Status and ResponseBody configure static routes.
	Status       int
	ResponseBody string

	// BodySchema is the raw JSON schema for request bodies, if any.
	BodySchema string

	segments []segment
}

type segment struct {
	literal string
	param   string // non-empty for placeholder segments
}

// Specification is the immutable set of all configured routes.
type Specification struct {
	routes []*RouteDef
}

// MatchKind classifies the result of resolving a request.
type MatchKind int

const (
	// Matched means a route matched and params were captured.
	Matched MatchKind = iota
	// NoMatch means no template matches the path. Maps to HTTP 404.
	NoMatch
	// MethodNotAllowed means the path matches a template registered
	// under a different method. Maps to HTTP 405.
	MethodNotAllowed
)

// Match is the per-request outcome of resolving (method, path).
type Match struct {
	Kind   MatchKind
	Route  *RouteDef
	Params map[string]string
}

// Build validates the configured routes and assembles a Specification.
// It fails when a template is malformed, when two routes share the same
// (method, template) pair, or when two same-method templates could match
// the same path.
func Build(routes []RouteDef) (*Specification, error) {
	spec := &Specification{routes: make([]*RouteDef, 0, len(routes))}

	for i := range routes {
		r := routes[i]
		segs, err := parseTemplate(r.Template)
		if err != nil {
			return nil, fmt.Errorf("%w: route %q: %v", ErrSpec, r.Name, err)
		}
		r.segments = segs
		spec.routes = append(spec.routes, &r)
	}

	for i, a := range spec.routes {
		for _, b := range spec.routes[i+1:] {
			if a.Method != b.Method {
				continue
			}
			if normalizeShape(a.segments) == normalizeShape(b.segments) {
				return nil, fmt.Errorf("%w: routes %q and %q share template %s %s",
					ErrSpec, a.Name, b.Name, a.Method, a.Template)
			}
			if overlap(a.segments, b.segments) {
				return nil, fmt.Errorf("%w: routes %q (%s) and %q (%s) are ambiguous for method %s",
					ErrSpec, a.Name, a.Template, b.Name, b.Template, a.Method)
			}
		}
	}

	return spec, nil
}

// FromConfig assembles a Specification from the configured route table.
// Routes are ordered by name so build errors are deterministic.
func FromConfig(routes map[string]config.RouteConfig) (*Specification, error) {
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]RouteDef, 0, len(routes))
	for _, name := range names {
		rc := routes[name]
		defs = append(defs, RouteDef{
			Name:         name,
			Method:       rc.Method,
			Template:     rc.Path,
			Latency:      rc.Latency,
			Handler:      rc.Handler,
			Status:       rc.Status,
			ResponseBody: rc.ResponseBody,
			BodySchema:   rc.BodySchema,
		})
	}
	return Build(defs)
}

// parseTemplate splits a template into segments and rejects malformed ones.
func parseTemplate(template string) ([]segment, error) {
	if !strings.HasPrefix(template, "/") {
		return nil, fmt.Errorf("template %q must start with '/'", template)
	}

	raw := splitPath(template)
	segs := make([]segment, 0, len(raw))
	seen := make(map[string]struct{})

	for _, s := range raw {
		if s == "" {
			return nil, fmt.Errorf("template %q contains an empty segment", template)
		}
		if m := paramName.FindStringSubmatch(s); m != nil {
			name := m[1]
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("template %q repeats placeholder %q", template, name)
			}
			seen[name] = struct{}{}
			segs = append(segs, segment{param: name})
			continue
		}
		if strings.ContainsAny(s, "{}") {
			return nil, fmt.Errorf("template %q has unmatched braces in segment %q", template, s)
		}
		segs = append(segs, segment{literal: s})
	}

	return segs, nil
}

// splitPath splits a path into segments, treating "/" as zero segments and
// ignoring a single trailing slash.
func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// normalizeShape renders segments with placeholder names erased, so
// /app/{id} and /app/{appId} normalize identically.
func normalizeShape(segs []segment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteByte('/')
		if s.param != "" {
			sb.WriteString("{}")
		} else {
			sb.WriteString(s.literal)
		}
	}
	if sb.Len() == 0 {
		return "/"
	}
	return sb.String()
}

// overlap reports whether two templates could both match some path: equal
// segment count and, at every position, equal literals or at least one
// placeholder.
func overlap(a, b []segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].param != "" || b[i].param != "" {
			continue
		}
		if a[i].literal != b[i].literal {
			return false
		}
	}
	return true
}

// Routes returns the route definitions in build order.
func (s *Specification) Routes() []*RouteDef {
	return s.routes
}

// Match resolves an incoming (method, path) pair. Path parameters are
// captured as-is; no decoding beyond what the transport already did.
func (s *Specification) Match(method, path string) Match {
	method = strings.ToUpper(method)
	incoming := splitPath(path)

	pathKnown := false
	for _, r := range s.routes {
		params, ok := matchSegments(r.segments, incoming)
		if !ok {
			continue
		}
		if r.Method != method {
			pathKnown = true
			continue
		}
		return Match{Kind: Matched, Route: r, Params: params}
	}

	if pathKnown {
		return Match{Kind: MethodNotAllowed}
	}
	return Match{Kind: NoMatch}
}

func matchSegments(segs []segment, incoming []string) (map[string]string, bool) {
	if len(segs) != len(incoming) {
		return nil, false
	}
	var params map[string]string
	for i, s := range segs {
		if s.param != "" {
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[s.param] = incoming[i]
			continue
		}
		if s.literal != incoming[i] {
			return nil, false
		}
	}
	return params, true
}
