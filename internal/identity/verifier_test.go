package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyReturnsSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "idt-valid", r.PostForm.Get("id_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"user-1","email":"u@example.com"}`))
	}))
	defer server.Close()

	v := NewTokenInfoVerifier(server.URL, time.Second)
	uid, err := v.Verify(context.Background(), "idt-valid")
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
}

func TestVerifyRejectedAssertion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer server.Close()

	v := NewTokenInfoVerifier(server.URL, time.Second)
	_, err := v.Verify(context.Background(), "idt-bad")
	assert.ErrorIs(t, err, ErrInvalidAssertion)
}

func TestVerifyMissingSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	v := NewTokenInfoVerifier(server.URL, time.Second)
	_, err := v.Verify(context.Background(), "idt-odd")
	assert.ErrorIs(t, err, ErrInvalidAssertion)
}

func TestVerifyTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	v := NewTokenInfoVerifier(server.URL, time.Second)
	_, err := v.Verify(context.Background(), "idt-any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidAssertion, "transport failure is not an invalid assertion")
}
