// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_acs_telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

// base64("0123456789abcdef")
const testAccessKey = "MDEyMzQ1Njc4OWFiY2RlZg=="

func testConfig(endpoint string) config.AcsProviderConfig {
	return config.AcsProviderConfig{
		Endpoint:     endpoint,
		AccessKey:    testAccessKey,
		SourceNumber: "+15550100",
	}
}

func TestNewAcs_RejectsIncompleteConfig(t *testing.T) {
	logger := commons.NewNopLogger()

	_, err := NewAcs(logger, config.AcsProviderConfig{AccessKey: testAccessKey, SourceNumber: "+1"})
	require.ErrorContains(t, err, "endpoint")

	_, err = NewAcs(logger, config.AcsProviderConfig{Endpoint: "https://x.communication.azure.com", SourceNumber: "+1"})
	require.ErrorContains(t, err, "access_key")

	_, err = NewAcs(logger, config.AcsProviderConfig{Endpoint: "https://x.communication.azure.com", AccessKey: testAccessKey})
	require.ErrorContains(t, err, "source_number")

	_, err = NewAcs(logger, config.AcsProviderConfig{
		Endpoint: "https://x.communication.azure.com", AccessKey: "!!not-base64!!", SourceNumber: "+1",
	})
	require.ErrorContains(t, err, "base64")
}

// Golden vectors for the request signature, computed independently with
// openssl against the documented scheme.
func TestSign_CreateCallVector(t *testing.T) {
	client, err := NewAcs(commons.NewNopLogger(), testConfig("https://contoso.communication.azure.com"))
	require.NoError(t, err)

	body := []byte(`{"callbackUri":"https://gw.example.com/call/events"}`)
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	headers, err := client.sign(http.MethodPost, "/calling/callConnections?api-version=2024-04-15", body, at)
	require.NoError(t, err)

	assert.Equal(t, "Mon, 10 Mar 2025 12:00:00 GMT", headers["x-ms-date"])
	assert.Equal(t, "J/CsQxdRBAnrjD0vesBCnFKO0vU9LhTEibR7OqUF7m4=", headers["x-ms-content-sha256"])
	assert.Equal(t,
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=DC49EOZHrKkew0aZAdL6IMGC6Ht2fPXeMIOiGVxqQac=",
		headers["Authorization"])
}

func TestSign_EmptyBodyVector(t *testing.T) {
	client, err := NewAcs(commons.NewNopLogger(), testConfig("https://contoso.communication.azure.com"))
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	headers, err := client.sign(http.MethodPost,
		"/calling/callConnections/call-123:terminate?api-version=2024-04-15", nil, at)
	require.NoError(t, err)

	assert.Equal(t, "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", headers["x-ms-content-sha256"])
	assert.Equal(t,
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=tFtEuB0u2MiXFM5hqMxYzeqPzWB9AlE+DsNxxSSeXY0=",
		headers["Authorization"])
}

func TestPlaceCall_SendsSignedMediaStreamingRequest(t *testing.T) {
	var got struct {
		Targets []struct {
			Kind        string `json:"kind"`
			PhoneNumber struct {
				Value string `json:"value"`
			} `json:"phoneNumber"`
		} `json:"targets"`
		SourceCallerIdNumber struct {
			Value string `json:"value"`
		} `json:"sourceCallerIdNumber"`
		CallbackUri           string `json:"callbackUri"`
		OperationContext      string `json:"operationContext"`
		MediaStreamingOptions struct {
			TransportUrl        string `json:"transportUrl"`
			TransportType       string `json:"transportType"`
			ContentType         string `json:"contentType"`
			AudioChannelType    string `json:"audioChannelType"`
			AudioFormat         string `json:"audioFormat"`
			EnableBidirectional bool   `json:"enableBidirectional"`
			StartMediaStreaming bool   `json:"startMediaStreaming"`
		} `json:"mediaStreamingOptions"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calling/callConnections", r.URL.Path)
		assert.Equal(t, "2024-04-15", r.URL.Query().Get("api-version"))
		assert.NotEmpty(t, r.Header.Get("x-ms-date"))
		assert.NotEmpty(t, r.Header.Get("x-ms-content-sha256"))
		assert.Contains(t, r.Header.Get("Authorization"),
			"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=")

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"callConnectionId":"cc-abc123"}`))
	}))
	defer server.Close()

	client, err := NewAcs(commons.NewNopLogger(), testConfig(server.URL))
	require.NoError(t, err)

	id, err := client.PlaceCall(context.Background(), internal_telephony.PlaceCallRequest{
		To:          "+15550199",
		MediaURL:    "wss://gw.example.com/media/tok-1",
		CallbackURL: "https://gw.example.com/call/events",
		Token:       "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cc-abc123", id)

	require.Len(t, got.Targets, 1)
	assert.Equal(t, "phoneNumber", got.Targets[0].Kind)
	assert.Equal(t, "+15550199", got.Targets[0].PhoneNumber.Value)
	assert.Equal(t, "+15550100", got.SourceCallerIdNumber.Value)
	assert.Equal(t, "https://gw.example.com/call/events", got.CallbackUri)
	assert.Equal(t, "tok-1", got.OperationContext)
	assert.Equal(t, "wss://gw.example.com/media/tok-1", got.MediaStreamingOptions.TransportUrl)
	assert.Equal(t, "websocket", got.MediaStreamingOptions.TransportType)
	assert.Equal(t, "audio", got.MediaStreamingOptions.ContentType)
	assert.Equal(t, "mixed", got.MediaStreamingOptions.AudioChannelType)
	assert.Equal(t, "Pcm16KMono", got.MediaStreamingOptions.AudioFormat)
	assert.True(t, got.MediaStreamingOptions.EnableBidirectional)
	assert.True(t, got.MediaStreamingOptions.StartMediaStreaming)
}

func TestPlaceCall_RejectedStatusSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Denied"}}`))
	}))
	defer server.Close()

	client, err := NewAcs(commons.NewNopLogger(), testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.PlaceCall(context.Background(), internal_telephony.PlaceCallRequest{To: "+15550199"})
	require.ErrorContains(t, err, "rejected")
}

func TestPlaceCall_MissingCallConnectionId(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewAcs(commons.NewNopLogger(), testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.PlaceCall(context.Background(), internal_telephony.PlaceCallRequest{To: "+15550199"})
	require.ErrorContains(t, err, "callConnectionId")
}

func TestHangup_TerminatesForEveryone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calling/callConnections/cc-abc123:terminate", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewAcs(commons.NewNopLogger(), testConfig(server.URL))
	require.NoError(t, err)

	require.NoError(t, client.Hangup(context.Background(), "cc-abc123"))
}
