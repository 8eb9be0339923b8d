package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

// apiClient is a thin retrying HTTP client against a warpd apiserver,
// matching the retry idiom pkg/loader uses for gateway requests.
type apiClient struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

func newAPIClient(cmd *cobra.Command) *apiClient {
	baseURL, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")

	client := retryablehttp.NewClient()
	client.Logger = nil

	return &apiClient{baseURL: baseURL, token: token, http: client}
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("warpctl: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warpctl: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("warpctl: failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("warpctl: server returned %s: %s", resp.Status, string(raw))
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

func (c *apiClient) readState(ctx context.Context, contractTxID, sortKey string) (json.RawMessage, error) {
	path := "/contracts/" + contractTxID + "/state"
	if sortKey != "" {
		path += "?sortKey=" + sortKey
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) viewOrDryWrite(ctx context.Context, verb, contractTxID, inputJSON, caller string) (json.RawMessage, error) {
	if !json.Valid([]byte(inputJSON)) {
		return nil, fmt.Errorf("warpctl: input is not valid JSON: %s", inputJSON)
	}
	body, err := json.Marshal(map[string]json.RawMessage{
		"caller": json.RawMessage(fmt.Sprintf("%q", caller)),
		"input":  json.RawMessage(inputJSON),
	})
	if err != nil {
		return nil, err
	}
	endpoint := "view"
	if verb == "dry-write" {
		endpoint = "dry-write"
	}
	return c.do(ctx, http.MethodPost, "/contracts/"+contractTxID+"/"+endpoint, body)
}

func (c *apiClient) cachePrune(ctx context.Context, contractTxID string, retain int) (json.RawMessage, error) {
	path := fmt.Sprintf("/admin/cache/%s/prune?retain=%d", contractTxID, retain)
	return c.do(ctx, http.MethodPost, path, nil)
}

func (c *apiClient) cacheKeys(ctx context.Context, contractTxID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/admin/cache/"+contractTxID+"/keys", nil)
}

func printJSON(raw json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
