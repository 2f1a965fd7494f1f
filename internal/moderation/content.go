package moderation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ContentStore is the external store of posts, comments and tracks.
// Remove and Approve are called inside the action transaction, so a failure
// aborts the action.
type ContentStore interface {
	Exists(ctx context.Context, kind TargetKind, id string) (bool, error)
	Remove(ctx context.Context, kind TargetKind, id string) error
	Approve(ctx context.Context, kind TargetKind, id string) error
}

// NopContentStore treats every target as existing and ignores removals.
type NopContentStore struct{}

func (NopContentStore) Exists(context.Context, TargetKind, string) (bool, error) { return true, nil }
func (NopContentStore) Remove(context.Context, TargetKind, string) error         { return nil }
func (NopContentStore) Approve(context.Context, TargetKind, string) error        { return nil }

// HTTPContentStore talks to a content service over HTTP:
//
//	HEAD   {base}/{kind}/{id}          exists (200) or not (404)
//	DELETE {base}/{kind}/{id}          remove
//	POST   {base}/{kind}/{id}/approve  approve
type HTTPContentStore struct {
	baseURL string
	client  *http.Client
}

var _ ContentStore = (*HTTPContentStore)(nil)

// NewHTTPContentStore creates a content store client for baseURL
func NewHTTPContentStore(baseURL string) (*HTTPContentStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid content service url %q", baseURL)
	}
	return &HTTPContentStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (s *HTTPContentStore) targetURL(kind TargetKind, id string, suffix string) string {
	return s.baseURL + "/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id) + suffix
}

func (s *HTTPContentStore) do(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("content service %s: %w", method, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *HTTPContentStore) Exists(ctx context.Context, kind TargetKind, id string) (bool, error) {
	code, err := s.do(ctx, http.MethodHead, s.targetURL(kind, id, ""))
	if err != nil {
		return false, err
	}
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return false, nil
	case code >= 200 && code < 300:
		return true, nil
	}
	return false, fmt.Errorf("content service HEAD: unexpected status %d", code)
}

func (s *HTTPContentStore) Remove(ctx context.Context, kind TargetKind, id string) error {
	code, err := s.do(ctx, http.MethodDelete, s.targetURL(kind, id, ""))
	if err != nil {
		return err
	}
	// already gone counts as removed
	if code == http.StatusNotFound || code == http.StatusGone || (code >= 200 && code < 300) {
		return nil
	}
	return fmt.Errorf("content service DELETE: unexpected status %d", code)
}

func (s *HTTPContentStore) Approve(ctx context.Context, kind TargetKind, id string) error {
	code, err := s.do(ctx, http.MethodPost, s.targetURL(kind, id, "/approve"))
	if err != nil {
		return err
	}
	if code >= 200 && code < 300 {
		return nil
	}
	return fmt.Errorf("content service approve: unexpected status %d", code)
}
