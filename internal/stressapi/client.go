// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package stressapi

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dsnet/compress/brotli"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"ulua.256lights.llc/pkg/internal/soakdb"
	"ulua.256lights.llc/pkg/internal/stress"
	"ulua.256lights.llc/pkg/internal/useragent"
)

// A Client queries a run history server over HTTP.
type Client struct {
	// URL is the URL of the server's discovery document.
	// This must be non-nil or the client's methods will return errors.
	URL *url.URL
	// Client methods use HTTPClient to make HTTP requests.
	// If HTTPClient is nil, then [http.DefaultClient] is used.
	HTTPClient *http.Client
}

func (c *Client) client() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) discover(ctx context.Context) (*Discovery, error) {
	if c.URL == nil {
		return nil, fmt.Errorf("get discovery document: url missing")
	}

	data, err := fetch(ctx, c.client(), c.URL, MediaType+",application/json;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, fmt.Errorf("get discovery document: %v", err)
	}
	d := new(Discovery)
	if err := jsonv2.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("get discovery document: %v", err)
	}
	return d, nil
}

func (c *Client) resolve(ctx context.Context, rel string, vars map[string]string) (*url.URL, error) {
	d, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	link := d.Link(rel)
	if link == nil {
		return nil, fmt.Errorf("server has no %s link", rel)
	}
	u, err := link.Expand(vars)
	if err != nil {
		return nil, fmt.Errorf("link relation %s: %v", rel, err)
	}
	return c.URL.ResolveReference(u), nil
}

// RecentRuns returns up to n run summaries from the server, newest first.
func (c *Client) RecentRuns(ctx context.Context, n int) ([]soakdb.RunSummary, error) {
	u, err := c.resolve(ctx, RunsRelation, map[string]string{
		"n": strconv.Itoa(n),
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %v", err)
	}
	data, err := fetch(ctx, c.client(), u, "application/json,*/*;q=0.8")
	if err != nil {
		return nil, fmt.Errorf("list runs: %v", err)
	}
	var result []soakdb.RunSummary
	if err := jsonv2.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("list runs: %v", err)
	}
	return result, nil
}

// Run returns the server's record for the given run.
// It returns an error wrapping [soakdb.ErrNotFound] if no such run was recorded.
func (c *Client) Run(ctx context.Context, id uuid.UUID) (*soakdb.RunRecord, error) {
	u, err := c.resolve(ctx, RunRelation, map[string]string{
		"id": id.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("run %v: %v", id, err)
	}
	data, err := fetch(ctx, c.client(), u, "application/json,*/*;q=0.8")
	if statusCode, _ := errorStatusCode(err); statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("run %v: %w", id, soakdb.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("run %v: %v", id, err)
	}
	record := new(soakdb.RunRecord)
	if err := jsonv2.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("run %v: %v", id, err)
	}
	return record, nil
}

// Trace returns the server's wait samples for the given run.
// It returns an error wrapping [soakdb.ErrNotFound] if the run has no trace.
func (c *Client) Trace(ctx context.Context, id uuid.UUID) ([]stress.WaitSample, error) {
	u, err := c.resolve(ctx, TraceRelation, map[string]string{
		"id": id.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("trace for run %v: %v", id, err)
	}
	data, err := fetch(ctx, c.client(), u, "application/json,*/*;q=0.8")
	if statusCode, _ := errorStatusCode(err); statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("trace for run %v: %w", id, soakdb.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("trace for run %v: %v", id, err)
	}
	var samples []stress.WaitSample
	if err := jsonv2.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("trace for run %v: %v", id, err)
	}
	return samples, nil
}

func fetch(ctx context.Context, client *http.Client, u *url.URL, accept string) ([]byte, error) {
	req := (&http.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{
			"Accept":          {accept},
			"Accept-Encoding": {acceptEncoding},
			"User-Agent":      {useragent.String},
		},
	}).WithContext(ctx)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %v: %w", u.Redacted(), &httpError{
			statusCode: resp.StatusCode,
			status:     resp.Status,
		})
	}
	const mebibyte = 1 << 20
	const maxSize = 4 * mebibyte
	if resp.ContentLength > maxSize {
		return nil, fmt.Errorf("fetch %v: response too large (%.1f MiB)", u.Redacted(), float64(resp.ContentLength)/mebibyte)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
	}
	if resp.ContentLength == -1 && len(data) == maxSize {
		if n, _ := resp.Body.Read(make([]byte, 1)); n > 0 {
			return nil, fmt.Errorf("fetch %v: response too large", u.Redacted())
		}
	}
	if e := resp.Header.Get("Content-Encoding"); e != "" {
		dec, err := decodeBody(bytes.NewReader(data), e)
		if err != nil {
			return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
		}
		defer dec.Close()
		data, err = io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
		}
	}
	return data, nil
}

// acceptEncoding is the value of an [Accept-Encoding header]
// that advertises the algorithms that [decodeBody] supports.
//
// [Accept-Encoding header]: https://developer.mozilla.org/en-US/docs/Web/HTTP/Reference/Headers/Accept-Encoding
const acceptEncoding = "br,gzip,deflate"

func decodeBody(r io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch contentEncoding {
	case "":
		return io.NopCloser(r), nil
	case "br":
		return brotli.NewReader(r, nil)
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %s", contentEncoding)
	}
}

type httpError struct {
	statusCode int
	status     string
}

func (e *httpError) Error() string {
	status := e.status
	if status == "" {
		status = http.StatusText(e.statusCode)
		if status == "" {
			status = strconv.Itoa(e.statusCode)
		}
	}
	return "http " + status
}

func errorStatusCode(err error) (statusCode int, ok bool) {
	if err == nil {
		return http.StatusOK, false
	}
	var h *httpError
	if !errors.As(err, &h) {
		return http.StatusInternalServerError, false
	}
	return h.statusCode, true
}
