package main

import (
	"context"
	"net/http"
	"net/url"

	"crm-platform/internal/realtime"
	"crm-platform/internal/upstream"

	"github.com/spf13/cast"
)

// apiFetcher reads conversation rows from the CRM API with the caller's token.
type apiFetcher struct {
	client  *upstream.Client
	headers map[string]string
	limit   int
}

func newAPIFetcher(baseURL, token string, limit int) *apiFetcher {
	return &apiFetcher{
		client:  upstream.New(upstream.Options{System: "crm", BaseURL: baseURL, UserAgent: "crm-watch"}),
		headers: map[string]string{"Authorization": "Bearer " + token},
		limit:   limit,
	}
}

func (f *apiFetcher) FetchOne(ctx context.Context, conversationID string) (realtime.Item, error) {
	var it realtime.Item
	err := f.client.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		Path:    "/v1/conversations/" + url.PathEscape(conversationID),
		Headers: f.headers,
	}, &it)
	if upstream.IsStatus(err, http.StatusNotFound) {
		return realtime.Item{}, realtime.ErrGone
	}
	return it, err
}

func (f *apiFetcher) FetchAll(ctx context.Context) ([]realtime.Item, error) {
	q := url.Values{}
	q.Set("limit", cast.ToString(f.limit))
	var out struct {
		Conversations []realtime.Item `json:"conversations"`
	}
	err := f.client.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		Path:    "/v1/conversations?" + q.Encode(),
		Headers: f.headers,
	}, &out)
	return out.Conversations, err
}
