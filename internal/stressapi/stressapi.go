// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package stressapi provides data types and a client
// for the run history HTTP API served by the stress harness.
//
// The API's entry point is a discovery document
// in the [JSON Hypertext Application Language] (HAL)
// whose links locate the run resources.
// Templated links use [URI templates].
//
// [JSON Hypertext Application Language]: https://datatracker.ietf.org/doc/html/draft-kelly-json-hal-11
// [URI templates]: https://datatracker.ietf.org/doc/html/rfc6570
package stressapi

import (
	"net/url"

	"zombiezen.com/go/uritemplate"
)

// MediaType is the MIME media type of the discovery document.
const MediaType = "application/hal+json"

// Link relation types used in the discovery document.
const (
	SelfRelation  = "self"
	RunsRelation  = "https://ulua.256lights.llc/api/rel/runs"
	RunRelation   = "https://ulua.256lights.llc/api/rel/run"
	TraceRelation = "https://ulua.256lights.llc/api/rel/trace"
)

// A Discovery describes the resources exposed by a run history server.
type Discovery struct {
	// Server is the name of the serving program.
	Server string `json:"server"`
	// Version is the version of the serving program, if known.
	Version string `json:"version,omitzero"`
	// Links is a map of [link relation types] to links.
	//
	// [link relation types]: https://datatracker.ietf.org/doc/html/rfc5988#section-4
	Links map[string]*Link `json:"_links"`
}

// NewDiscovery returns the discovery document for a run history server,
// with links relative to the document's URL.
func NewDiscovery(version string) *Discovery {
	return &Discovery{
		Server:  "ulua-stress",
		Version: version,
		Links: map[string]*Link{
			SelfRelation: {HRef: "/"},
			RunsRelation: {
				HRef:      "/api/runs{?n}",
				Templated: true,
				Title:     "Recent runs",
				Type:      "application/json",
			},
			RunRelation: {
				HRef:      "/api/runs/{id}",
				Templated: true,
				Title:     "Run report",
				Type:      "application/json",
			},
			TraceRelation: {
				HRef:      "/api/runs/{id}/trace",
				Templated: true,
				Title:     "Run wait samples",
				Type:      "application/json",
			},
		},
	}
}

// Link returns the link for the given relation type
// or nil if the document has no such link.
func (d *Discovery) Link(rel string) *Link {
	if d == nil {
		return nil
	}
	return d.Links[rel]
}

// A Link is a HAL [link object].
// The only required field is HRef.
//
// [link object]: https://datatracker.ietf.org/doc/html/draft-kelly-json-hal-11#name-link-objects
type Link struct {
	// HRef is either a URI or a [URI template]
	// based on the value of Templated.
	//
	// [URI template]: https://datatracker.ietf.org/doc/html/rfc6570
	HRef string `json:"href"`
	// If Templated is true, the value of HRef is a URI template.
	// Otherwise, HRef's value is a URI.
	Templated bool `json:"templated,omitzero"`
	// Title is an optional human-readable label for the link.
	Title string `json:"title,omitzero"`
	// Type is a hint to indicate the media type expected
	// when dereferencing the target resource.
	Type string `json:"type,omitzero"`
}

// Expand expands the link's URI with the given template variables.
// If the link is not templated, then the variables are ignored.
func (l *Link) Expand(vars map[string]string) (*url.URL, error) {
	href := l.HRef
	if l.Templated {
		var err error
		href, err = uritemplate.Expand(href, vars)
		if err != nil {
			return nil, err
		}
	}
	return url.Parse(href)
}
