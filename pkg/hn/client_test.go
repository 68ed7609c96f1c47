package hn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, items map[int64]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/newstories.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[3,2,1]")
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		fmt.Sscanf(r.URL.Path, "/item/%d.json", &id)
		body, ok := items[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewStories(t *testing.T) {
	srv := newTestServer(t, nil)
	c := New(srv.URL, 100, 4)

	ids, err := c.NewStories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids)
}

func TestGetItem(t *testing.T) {
	srv := newTestServer(t, map[int64]string{
		1: `{"id":1,"type":"story","by":"pg","time":1700000000,"title":"A story","url":"https://example.com","score":42,"descendants":7}`,
	})
	c := New(srv.URL, 100, 4)

	item, err := c.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "pg", item.By)
	assert.Equal(t, 42, item.Score)
	assert.Equal(t, 7, item.Descendants)
	assert.True(t, item.Valid())
}

func TestGetItem_MissingReturnsNil(t *testing.T) {
	srv := newTestServer(t, nil)
	c := New(srv.URL, 100, 4)

	item, err := c.GetItem(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestGetItem_NullBodyReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "null")
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, 100, 4)

	item, err := c.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestGetItems_SkipsInvalid(t *testing.T) {
	srv := newTestServer(t, map[int64]string{
		1: `{"id":1,"type":"story","by":"pg","time":1700000000,"title":"Keep me","score":10}`,
		2: `{"id":2,"type":"comment","by":"pg","time":1700000000,"title":"Not a story"}`,
		3: `{"id":3,"type":"story","by":"pg","time":1700000000,"title":"Dead one","dead":true}`,
		4: `{"id":4,"deleted":true}`,
	})
	c := New(srv.URL, 100, 4)

	items, err := c.GetItems(context.Background(), []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ID)
}

func TestGetJSON_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "[1]")
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, 100, 4)

	ids, err := c.NewStories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostType(t *testing.T) {
	cases := []struct {
		name string
		item Item
		want string
	}{
		{"plain story", Item{Type: "story", Title: "A new database"}, "story"},
		{"ask", Item{Type: "story", Title: "Ask HN: How do you test?"}, "ask"},
		{"show", Item{Type: "story", Title: "Show HN: My side project"}, "show"},
		{"job", Item{Type: "job", Title: "Hiring engineers"}, "job"},
		{"poll", Item{Type: "poll", Title: "Ask HN: Poll about editors"}, "poll"},
		{"case insensitive", Item{Type: "story", Title: "ASK HN: loud question"}, "ask"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.item.PostType())
		})
	}
}

func TestValid(t *testing.T) {
	var nilItem *Item
	assert.False(t, nilItem.Valid())
	assert.False(t, (&Item{Type: "story", Title: "no author"}).Valid())
	assert.False(t, (&Item{Type: "comment", By: "pg", Title: "t"}).Valid())
	assert.True(t, (&Item{Type: "story", By: "pg", Title: "t"}).Valid())
}
