package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL+"/", "sekret", nil)
	require.NoError(t, err)
	return client
}

func TestClientSendsTokenHeader(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	}))

	var out map[string]any
	require.NoError(t, client.GetJSON(context.Background(), "/api/users/current/", &out))
	assert.Equal(t, "Token sekret", gotAuth)
}

func TestClientStatusErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing/":
			w.WriteHeader(http.StatusNotFound)
		case "/forbidden/":
			w.WriteHeader(http.StatusForbidden)
		case "/bad/":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"name": ["This field is required."]}`)
		case "/broken/":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	ctx := context.Background()
	var out map[string]any

	err := client.GetJSON(ctx, "/missing/", &out)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.URL, "/missing/")

	err = client.GetJSON(ctx, "/forbidden/", &out)
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, http.StatusForbidden, auth.StatusCode)

	err = client.GetJSON(ctx, "/bad/", &out)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Body, "This field is required.")

	err = client.GetJSON(ctx, "/broken/", &out)
	var server *ServerError
	require.ErrorAs(t, err, &server)
	assert.Equal(t, http.StatusInternalServerError, server.StatusCode)
}

func TestClientNormalizesNumbers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pk": 42, "weight": 1.5, "nested": {"points": 3}, "list": [7]}`)
	}))

	var out map[string]any
	require.NoError(t, client.GetJSON(context.Background(), "/api/thing/", &out))
	assert.Equal(t, 42, out["pk"])
	assert.Equal(t, 1.5, out["weight"])
	assert.Equal(t, 3, out["nested"].(map[string]any)["points"])
	assert.Equal(t, 7, out["list"].([]any)[0])
}

func TestClientSendJSON(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"pk": 1, "name": "Project 1"}`)
	}))

	var out map[string]any
	err := client.SendJSON(context.Background(), http.MethodPost, "/api/courses/1/projects/",
		map[string]any{"name": "Project 1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Project 1", gotBody["name"])
	assert.Equal(t, 1, out["pk"])
}

func TestClientSendMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file_obj")
		require.NoError(t, err)
		defer file.Close()

		var buf bytes.Buffer
		_, err = buf.ReadFrom(file)
		require.NoError(t, err)
		assert.Equal(t, "instructor_file.txt", header.Filename)
		assert.Equal(t, "file contents\n", buf.String())
		fmt.Fprint(w, `{"pk": 9, "name": "instructor_file.txt"}`)
	}))

	var out map[string]any
	err := client.SendMultipart(context.Background(), http.MethodPost,
		"/api/projects/1/instructor_files/", "file_obj", "instructor_file.txt",
		[]byte("file contents\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, 9, out["pk"])
}

func TestClientDownload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "raw file bytes")
	}))

	var buf bytes.Buffer
	require.NoError(t, client.Download(context.Background(), "/api/instructor_files/9/content/", &buf))
	assert.Equal(t, "raw file bytes", buf.String())
}

func TestClientGetPaginated(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"count": 3, "next": null, "results": [{"pk": 3}]}`)
			return
		}
		fmt.Fprintf(w, `{"count": 3, "next": %q, "results": [{"pk": 1}, {"pk": 2}]}`,
			server.URL+"/api/groups/?page=2")
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL+"/", "sekret", nil)
	require.NoError(t, err)

	results, err := client.GetPaginated(context.Background(), "/api/groups/")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].(map[string]any)["pk"])
	assert.Equal(t, 3, results[2].(map[string]any)["pk"])
}

func TestClientRejectsBadBaseURL(t *testing.T) {
	_, err := NewClient("://not-a-url", "tok", nil)
	require.Error(t, err)
}

func TestClientContextCancellation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out map[string]any
	err := client.GetJSON(ctx, "/api/slow/", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
