// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azuretesting provides fakes for the Azure SDK transport so
// ARM interactions can be tested without the network.
package azuretesting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// MockSender is a policy.Transporter that replays canned responses in
// the order they were appended. If PathPattern is set, each request's
// URL path must match it.
type MockSender struct {
	PathPattern string

	mu        sync.Mutex
	responses []*http.Response
}

// AppendResponse queues a response for a future request.
func (s *MockSender) AppendResponse(resp *http.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
}

// Do implements policy.Transporter.
func (s *MockSender) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PathPattern != "" {
		matched, err := regexp.MatchString(s.PathPattern, req.URL.Path)
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, fmt.Errorf("request path %q did not match pattern %q", req.URL.Path, s.PathPattern)
		}
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no response for %q", req.URL)
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	resp.Request = req
	return resp, nil
}

// NewSenderWithValue returns a MockSender that responds with the JSON
// serialisation of v and status 200.
func NewSenderWithValue(v interface{}) *MockSender {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	sender := &MockSender{}
	sender.AppendResponse(NewResponseWithBodyAndStatus(NewBody(string(data)), http.StatusOK, "OK"))
	return sender
}

// NewBody returns a response body with the given content.
func NewBody(content string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(content)))
}

// NewResponseWithBodyAndStatus constructs an *http.Response with a
// JSON content type.
func NewResponseWithBodyAndStatus(body io.ReadCloser, statusCode int, status string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Status:     status,
		Body:       body,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// NewResponseWithStatus constructs a bodyless *http.Response.
func NewResponseWithStatus(statusCode int, status string) *http.Response {
	return NewResponseWithBodyAndStatus(NewBody(""), statusCode, status)
}

// Senders is a policy.Transporter that consumes one queued sender per
// request, front to back. It lets a test lay out the exact sequence of
// ARM calls it expects.
type Senders []policy.Transporter

// Do implements policy.Transporter.
func (s *Senders) Do(req *http.Request) (*http.Response, error) {
	if len(*s) == 0 {
		return nil, fmt.Errorf("no sender for %q", req.URL)
	}
	sender := (*s)[0]
	*s = (*s)[1:]
	return sender.Do(req)
}
