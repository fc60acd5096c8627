package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vaulttoken/gateway/middleware"
)

type client struct {
	baseURL string
	account string
	token   string
	http    *http.Client
}

// apiError is the JSON body the gateway returns on failure.
type apiError struct {
	Status  int
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) get(path string, query url.Values) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *client) post(path string, body any) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) do(req *http.Request) (json.RawMessage, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.account != "" {
		req.Header.Set(middleware.HeaderAccountID, c.account)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(payload, apiErr)
		return nil, apiErr
	}
	return json.RawMessage(payload), nil
}

type txRequest struct {
	Receiver string          `json:"receiver,omitempty"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
	Deposit  string          `json:"deposit,omitempty"`
	Gas      uint64          `json:"gas,omitempty"`
	Async    bool            `json:"async,omitempty"`
}

func (c *client) submit(tx txRequest) (json.RawMessage, error) {
	return c.post("/v1/tx", tx)
}
