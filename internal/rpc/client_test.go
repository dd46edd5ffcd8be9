package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

func addTodoOp() ir.Operation {
	return ir.Operation{
		ID:    "op-123",
		Kind:  "todos/addTodo",
		Query: "mutation AddTodo($title: String!, $clientId: String!) { addTodo(title: $title, clientId: $clientId) { id clientId title completed } }",
		Variables: ir.Obj(
			ir.O("title", ir.IRString("milk")),
			ir.O("clientId", ir.IRString("c1")),
		),
	}
}

func TestSend_PostsQueryAndReturnsData(t *testing.T) {
	var (
		gotBody   map[string]any
		gotHeader http.Header
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"addTodo":{"id":"7","clientId":"c1","title":"milk","completed":false}}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithHeader("Authorization", "Bearer t"))
	result, err := c.Send(context.Background(), addTodoOp())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "op-123", gotHeader.Get(IdempotencyHeader))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Bearer t", gotHeader.Get("Authorization"))
	assert.Equal(t, addTodoOp().Query, gotBody["query"])
	assert.Equal(t, map[string]any{"title": "milk", "clientId": "c1"}, gotBody["variables"])

	todo, ok := result.Object("addTodo")
	require.True(t, ok)
	id, _ := todo.String("id")
	assert.Equal(t, "7", id)
}

func TestSend_NilVariablesSentAsObject(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = io.WriteString(w, `{"data":{"todos":[]}}`)
	}))
	defer srv.Close()

	result, err := New(srv.URL).Send(context.Background(), ir.Operation{Kind: "todos/fetchTodos", Query: "query { todos { id } }"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, gotBody["variables"])
	list, ok := result.Array("todos")
	assert.True(t, ok)
	assert.Empty(t, list)
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		remote    bool
		malformed bool
		message   string
	}{
		{"graphql errors", 200, `{"data":null,"errors":[{"message":"boom"},{"message":"again"}]}`, true, false, "graphql: boom; again"},
		{"http status", 503, `unavailable`, true, false, "graphql: HTTP 503"},
		{"http status with errors", 400, `{"errors":[{"message":"bad query"}]}`, true, false, "graphql: bad query"},
		{"malformed body", 200, `{"data":`, false, true, ""},
		{"float in data", 200, `{"data":{"n":1.5}}`, false, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Send(context.Background(), addTodoOp())
			require.Error(t, err)
			assert.Equal(t, tt.remote, IsRemoteError(err))
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedResponse))
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestSend_EmptyDataIsEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	result, err := New(srv.URL).Send(context.Background(), addTodoOp())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).Send(context.Background(), addTodoOp())
	require.Error(t, err)
	assert.False(t, IsRemoteError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Send(context.Background(), addTodoOp())
	require.Error(t, err)
	assert.False(t, IsRemoteError(err))
}

func TestSend_LogsFailureCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"addTodo":{"id":1.5}}}`)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	_, err := New(srv.URL, WithLogger(logger)).Send(context.Background(), addTodoOp())
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "cause=malformed_response")

	logs.Reset()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	_, err = New(down.URL, WithLogger(logger)).Send(context.Background(), addTodoOp())
	require.Error(t, err)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "cause=remote")
}
