package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
	"id": "chatcmpl-test",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-3.5-turbo",
	"choices": [
		{"index": 0, "message": {"role": "assistant", "content": "Hola, ¿en qué puedo ayudarte?"}, "finish_reason": "stop"}
	]
}`

// newTestClient points an OpenAIClient at a TLS test server while keeping
// the production redirect policy.
func newTestClient(t *testing.T, handler http.Handler) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	httpClient := srv.Client()
	httpClient.CheckRedirect = checkRedirect

	client, err := NewOpenAIClient(srv.URL, WithHTTPClient(httpClient))
	require.NoError(t, err)
	return client, srv
}

func testRequest() CompletionRequest {
	return CompletionRequest{
		Model: "gpt-3.5-turbo",
		Messages: []Message{
			{Role: "system", Content: "Eres un asistente."},
			{Role: "user", Content: "hola"},
		},
		Temperature: 0.7,
		MaxTokens:   800,
		APIKey:      "sk-test_key_0123456789",
	}
}

func TestCompleteSuccess(t *testing.T) {
	var gotPath, gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))

	text, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué puedo ayudarte?", text)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test_key_0123456789", gotAuth)
}

func TestCompleteSendsZeroTemperature(t *testing.T) {
	var wire map[string]json.RawMessage
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &wire))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))

	req := testRequest()
	req.Temperature = 0

	_, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Contains(t, wire, "temperature")

	var temp float64
	require.NoError(t, json.Unmarshal(wire["temperature"], &temp))
	assert.Less(t, temp, 1e-6)
}

func TestCompleteServiceError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`)
	}))

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureService, cerr.Kind)
	assert.Equal(t, "Incorrect API key provided", cerr.Message)
}

func TestCompleteHTTPError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureHTTP, cerr.Kind)
	assert.Empty(t, cerr.Message)
}

func TestCompleteMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{not json at all")
	}))

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureMalformed, cerr.Kind)
}

func TestCompleteEmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "chatcmpl-test", "object": "chat.completion", "choices": []}`)
	}))

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureMalformed, cerr.Kind)
}

func TestCompleteTransportError(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureTransport, cerr.Kind)
}

func TestCompleteFollowsThreeRedirects(t *testing.T) {
	hops := map[string]string{
		"/chat/completions": "/hop1",
		"/hop1":             "/hop2",
		"/hop2":             "/hop3",
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if next, ok := hops[r.URL.Path]; ok {
			http.Redirect(w, r, next, http.StatusTemporaryRedirect)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}))

	text, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué puedo ayudarte?", text)
}

func TestCompleteRedirectCap(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// redirect forever; the policy must cut this off
		http.Redirect(w, r, r.URL.Path, http.StatusTemporaryRedirect)
	}))

	_, err := client.Complete(context.Background(), testRequest())
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, FailureTransport, cerr.Kind)
}

func TestNewOpenAIClientRejectsPlainHTTP(t *testing.T) {
	_, err := NewOpenAIClient("http://api.example.com/v1")
	assert.Error(t, err)
}

func TestNewOpenAIClientDefaultBaseURL(t *testing.T) {
	client, err := NewOpenAIClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
}
