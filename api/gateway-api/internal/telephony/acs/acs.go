// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_acs_telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

const (
	apiVersion     = "2024-04-15"
	requestTimeout = 15 * time.Second
)

// acs talks to the call-automation REST API directly. Requests are signed
// with the resource access key: the signature covers the method, the path
// with query, and the date;host;content-sha256 triple.
type acs struct {
	logger commons.Logger
	cfg    config.AcsProviderConfig
	host   string
	http   *resty.Client
}

// NewAcs validates the configured endpoint and access key and returns the
// call-automation client.
func NewAcs(logger commons.Logger, cfg config.AcsProviderConfig) (acs, error) {
	if cfg.Endpoint == "" {
		return acs{}, fmt.Errorf("illegal acs config: endpoint is not found")
	}
	if cfg.AccessKey == "" {
		return acs{}, fmt.Errorf("illegal acs config: access_key is not found")
	}
	if cfg.SourceNumber == "" {
		return acs{}, fmt.Errorf("illegal acs config: source_number is not found")
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Host == "" {
		return acs{}, fmt.Errorf("illegal acs config: endpoint %q is not a url", cfg.Endpoint)
	}
	if _, err := base64.StdEncoding.DecodeString(cfg.AccessKey); err != nil {
		return acs{}, fmt.Errorf("illegal acs config: access_key is not base64: %w", err)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	return acs{
		logger: logger,
		cfg:    cfg,
		host:   endpoint.Host,
		http:   client,
	}, nil
}

func (a acs) Name() string { return "acs" }

// Wire shapes of the call-automation REST API.

type phoneNumberModel struct {
	Value string `json:"value"`
}

type targetModel struct {
	Kind        string           `json:"kind"`
	PhoneNumber phoneNumberModel `json:"phoneNumber"`
}

type mediaStreamingOptions struct {
	TransportUrl        string `json:"transportUrl"`
	TransportType       string `json:"transportType"`
	ContentType         string `json:"contentType"`
	AudioChannelType    string `json:"audioChannelType"`
	AudioFormat         string `json:"audioFormat"`
	EnableBidirectional bool   `json:"enableBidirectional"`
	StartMediaStreaming bool   `json:"startMediaStreaming"`
}

type createCallRequest struct {
	Targets               []targetModel          `json:"targets"`
	SourceCallerIdNumber  phoneNumberModel       `json:"sourceCallerIdNumber"`
	CallbackUri           string                 `json:"callbackUri"`
	OperationContext      string                 `json:"operationContext,omitempty"`
	MediaStreamingOptions *mediaStreamingOptions `json:"mediaStreamingOptions,omitempty"`
}

type createCallResponse struct {
	CallConnectionId string `json:"callConnectionId"`
}

// PlaceCall creates an outbound call with bidirectional PCM media streaming
// pointed at the gateway's media websocket.
func (a acs) PlaceCall(ctx context.Context, req internal_telephony.PlaceCallRequest) (string, error) {
	body, err := json.Marshal(createCallRequest{
		Targets: []targetModel{{
			Kind:        "phoneNumber",
			PhoneNumber: phoneNumberModel{Value: req.To},
		}},
		SourceCallerIdNumber: phoneNumberModel{Value: a.cfg.SourceNumber},
		CallbackUri:          req.CallbackURL,
		OperationContext:     req.Token,
		MediaStreamingOptions: &mediaStreamingOptions{
			TransportUrl:        req.MediaURL,
			TransportType:       "websocket",
			ContentType:         "audio",
			AudioChannelType:    "mixed",
			AudioFormat:         "Pcm16KMono",
			EnableBidirectional: true,
			StartMediaStreaming: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("acs create call encode: %w", err)
	}

	requestPath := "/calling/callConnections?api-version=" + apiVersion
	headers, err := a.sign(http.MethodPost, requestPath, body, time.Now())
	if err != nil {
		return "", err
	}

	var out createCallResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&out).
		Post(requestPath)
	if err != nil {
		return "", fmt.Errorf("acs create call failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("acs create call rejected: %s: %s", resp.Status(), resp.String())
	}
	if out.CallConnectionId == "" {
		return "", fmt.Errorf("acs create call response missing callConnectionId")
	}

	a.logger.Infow("placed outbound call",
		"provider", a.Name(),
		"callConnectionId", out.CallConnectionId,
		"to", req.To)

	return out.CallConnectionId, nil
}

// Hangup terminates the call for every participant.
func (a acs) Hangup(ctx context.Context, providerCallID string) error {
	requestPath := fmt.Sprintf("/calling/callConnections/%s:terminate?api-version=%s",
		url.PathEscape(providerCallID), apiVersion)
	headers, err := a.sign(http.MethodPost, requestPath, nil, time.Now())
	if err != nil {
		return err
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Post(requestPath)
	if err != nil {
		return fmt.Errorf("acs terminate call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("acs terminate call rejected: %s: %s", resp.Status(), resp.String())
	}

	a.logger.Infow("terminated call", "provider", a.Name(), "callConnectionId", providerCallID)
	return nil
}

// sign produces the hmac-sha256 auth headers for one request. The signed
// string is "METHOD\npath?query\ndate;host;base64(sha256(body))" and the
// date must repeat verbatim in x-ms-date.
func (a acs) sign(method, pathAndQuery string, body []byte, at time.Time) (map[string]string, error) {
	key, err := base64.StdEncoding.DecodeString(a.cfg.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("acs access key is not base64: %w", err)
	}

	contentHash := sha256.Sum256(body)
	encodedHash := base64.StdEncoding.EncodeToString(contentHash[:])
	date := at.UTC().Format(http.TimeFormat)

	stringToSign := method + "\n" + pathAndQuery + "\n" + date + ";" + a.host + ";" + encodedHash
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"x-ms-date":           date,
		"x-ms-content-sha256": encodedHash,
		"Authorization":       "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=" + signature,
	}, nil
}
