package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/httpx"
)

func TestNewFailsWithoutAPIKeyEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY_UNSET", "")
	_, err := New(Config{APIKeyEnv: "TEST_LLM_KEY_UNSET"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, blerrors.KindAuthConfig, blerrors.KindOf(err))
}

func TestCompleteParsesChoiceAndUsage(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		resp := chatResponse{
			Choices: []chatChoice{{Message: Message{Role: "assistant", Content: `[{"classification":"junk"}]`}}},
			Usage:   usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer srv.Close()

	t.Setenv("TEST_LLM_KEY", "sk-abc123")
	hc := httpx.New(httpx.DefaultConfig(), nil)
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_LLM_KEY", Model: "gpt-test"}, hc, nil)
	require.NoError(t, err)

	content, u, err := c.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, `[{"classification":"junk"}]`, content)
	assert.Equal(t, 15, u.TotalTokens)
	assert.Equal(t, "Bearer sk-abc123", gotAuth)
}

func TestCompleteErrorsOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_LLM_KEY2", "sk-xyz")
	hc := httpx.New(httpx.DefaultConfig(), nil)
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_LLM_KEY2"}, hc, nil)
	require.NoError(t, err)

	_, _, err = c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, blerrors.KindParse, blerrors.KindOf(err))
}
