package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchParsesTagsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3","modified_at":"2024-01-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	models, err := Fetch(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "llama3", models[0].Id)
}

func TestFetchFallsBackToDefaultsOnFailure(t *testing.T) {
	models, err := Fetch(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
	require.Error(t, err)
	require.Equal(t, Defaults(), models)
}

func TestReplaceMarksUsingHostModels(t *testing.T) {
	c := New()
	c.Replace([]Model{{Id: "m1"}}, true)
	require.True(t, c.UsingHostModels())
	require.Equal(t, []Model{{Id: "m1"}}, c.Models())
}
