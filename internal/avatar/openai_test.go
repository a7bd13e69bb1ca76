package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOpenAIResponder(t *testing.T) {
	t.Run("requires an api key", func(t *testing.T) {
		_, err := NewOpenAIResponder(Config{})
		assert.Error(t, err, "expected an error without an api key")
	})

	t.Run("applies defaults", func(t *testing.T) {
		r, err := NewOpenAIResponder(Config{APIKey: "test-key"})
		assert.NoError(t, err, "expected no error with an api key")
		assert.Equal(t, "gpt-4o-mini", r.cfg.Model, "expected default model")
		assert.Equal(t, 512, r.cfg.MaxTokens, "expected default max tokens")
	})
}

func TestReply(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := json.NewDecoder(r.Body).Decode(&gotReq)
		assert.NoError(t, err, "expected a decodable completion request")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Try table tests. \n"}}]}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(Config{APIKey: "test-key", BaseURL: srv.URL})
	assert.NoError(t, err, "expected no error building responder")

	reply, err := r.Reply(context.Background(), "a helpful assistant", "@ava how do I test this?")

	assert.NoError(t, err, "expected no error generating reply")
	assert.Equal(t, "Try table tests.", reply, "expected the trimmed completion content")

	assert.Equal(t, "gpt-4o-mini", gotReq.Model, "expected the configured model in the request")
	if assert.Len(t, gotReq.Messages, 2, "expected a system and a user message") {
		assert.Equal(t, "system", gotReq.Messages[0].Role, "expected the first message to be the system prompt")
		assert.Contains(t, gotReq.Messages[0].Content, "a helpful assistant", "expected the persona in the system prompt")
		assert.Equal(t, "@ava how do I test this?", gotReq.Messages[1].Content, "expected the triggering message as the user prompt")
	}
}

func TestReplyNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(Config{APIKey: "test-key", BaseURL: srv.URL})
	assert.NoError(t, err, "expected no error building responder")

	_, err = r.Reply(context.Background(), "", "hello")
	assert.Error(t, err, "expected an error when no choices are returned")
}

func TestReplyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(Config{APIKey: "test-key", BaseURL: srv.URL})
	assert.NoError(t, err, "expected no error building responder")

	_, err = r.Reply(context.Background(), "", "hello")
	assert.Error(t, err, "expected the upstream error to surface")
}
