package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
)

func TestRouter_CallbackForwardsRequest(t *testing.T) {
	var got events.APIGatewayProxyRequest
	srv := httptest.NewServer(newRouter(func(_ context.Context, e events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		got = e
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"X-Correlation-Id": "corr-1"},
			Body:       `"OK"`,
		}, nil
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/callback", strings.NewReader(`{"events":[]}`))
	require.NoError(t, err)
	req.Header.Set("X-Line-Signature", "sig")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"OK"`, string(body))
	require.Equal(t, "corr-1", resp.Header.Get("X-Correlation-Id"))

	require.Equal(t, http.MethodPost, got.HTTPMethod)
	require.Equal(t, "/callback", got.Path)
	require.Equal(t, `{"events":[]}`, got.Body)
	require.Equal(t, "sig", got.Headers["X-Line-Signature"])
}

func TestRouter_HandlerError(t *testing.T) {
	srv := httptest.NewServer(newRouter(func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return events.APIGatewayProxyResponse{}, errors.New("boom")
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/callback", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRouter_Health(t *testing.T) {
	srv := httptest.NewServer(newRouter(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/callback")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
