package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

type Client struct {
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

func (c *Client) Get(path string, out interface{}) error {
	return c.do("GET", path, nil, out, nil)
}

// Post submits an async mutation with a fresh idempotency key.
func (c *Client) Post(path string, body interface{}, out interface{}) error {
	return c.do("POST", path, body, out, map[string]string{
		"Idempotency-Key": uuid.New().String(),
	})
}

func (c *Client) Patch(path string, body interface{}, out interface{}) error {
	return c.do("PATCH", path, body, out, nil)
}

func (c *Client) Delete(path string, out interface{}) error {
	return c.do("DELETE", path, nil, out, nil)
}

func (c *Client) do(method, path string, body interface{}, out interface{}, headers map[string]string) error {
	var reqBody io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if asUser != "" {
		req.Header.Set("X-User", asUser)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return parseResponse(resp, out)
}

func parseResponse(resp *http.Response, out interface{}) error {
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		json.Unmarshal(b, &errResp)
		return fmt.Errorf("%s: %s", errResp.Code, errResp.Message)
	}
	if out != nil {
		return json.Unmarshal(b, out)
	}
	return nil
}
