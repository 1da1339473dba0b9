package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"toolhub/internal/util"
)

// APICheckTool sends an HTTP request and optionally validates the response
// against declarative checks.
type APICheckTool struct {
	client *retryablehttp.Client
}

// NewAPICheckTool constructs an API check tool.
func NewAPICheckTool() *APICheckTool {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &APICheckTool{client: client}
}

func (t *APICheckTool) Name() string { return "api_check" }

func (t *APICheckTool) Description() string {
	return "Sends an HTTP request (GET, POST, PUT, DELETE) to an API endpoint, returns the response, and runs optional validations against it."
}

func (t *APICheckTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"}},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"query": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"json_payload": map[string]any{"type": "object"},
			"validations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":        map[string]any{"type": "string", "enum": []string{"status_code", "header_equals", "body_contains", "json_path_equals"}},
						"path_or_key": map[string]any{"type": "string"},
						"expected":    map[string]any{},
					},
					"required": []string{"type", "expected"},
				},
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

// Validation is one declarative check against the response.
type Validation struct {
	Type      string          `json:"type"`
	PathOrKey string          `json:"path_or_key"`
	Expected  json.RawMessage `json:"expected"`
}

type apiCheckInput struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Query       map[string]string `json:"query"`
	JSONPayload json.RawMessage   `json:"json_payload"`
	Validations []Validation      `json:"validations"`
}

type validationResult struct {
	Type      string `json:"type"`
	PathOrKey string `json:"path_or_key,omitempty"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

type apiCheckOutput struct {
	StatusCode  int                `json:"status_code"`
	Headers     map[string]string  `json:"headers"`
	Body        string             `json:"body"`
	Truncated   bool               `json:"truncated"`
	DurationMs  int64              `json:"duration_ms"`
	Validations []validationResult `json:"validations,omitempty"`
	Passed      *bool              `json:"passed,omitempty"`
}

func (t *APICheckTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args apiCheckInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.URL) == "" {
		return Result{}, errors.New("url is required")
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{}, fmt.Errorf("url must be an absolute http(s) URL")
	}
	method := strings.ToUpper(args.Method)
	if method == "" {
		method = http.MethodGet
	}

	if len(args.Query) > 0 {
		q := parsed.Query()
		for key, value := range args.Query {
			q.Set(key, value)
		}
		parsed.RawQuery = q.Encode()
	}

	timeout := time.Duration(meta.ToolTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(args.JSONPayload) > 0 {
		body = bytes.NewReader(args.JSONPayload)
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return Result{}, err
	}
	if len(args.JSONPayload) > 0 {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range args.Headers {
		request.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := t.client.Do(request)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(meta.MaxBytes)
	if limit <= 0 {
		limit = 256 * 1024
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Result{}, err
	}
	bodyStr := string(raw)
	truncated := false
	if int64(len(raw)) > limit {
		bodyStr = bodyStr[:limit]
		truncated = true
	}
	bodyStr = util.RedactSecrets(bodyStr)

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = util.RedactSecrets(resp.Header.Get(key))
	}

	output := apiCheckOutput{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       bodyStr,
		Truncated:  truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if len(args.Validations) > 0 {
		passed := true
		for _, v := range args.Validations {
			res := runValidation(v, output)
			if !res.Passed {
				passed = false
			}
			output.Validations = append(output.Validations, res)
		}
		output.Passed = &passed
	}

	preview := fmt.Sprintf("%s %s -> %d (%d bytes)", method, parsed.String(), resp.StatusCode, len(bodyStr))
	if output.Passed != nil {
		preview = fmt.Sprintf("%s, validations passed=%v", preview, *output.Passed)
	}
	return Result{
		ToolName:   t.Name(),
		Payload:    output,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  len(bodyStr),
		Truncated:  truncated,
		DurationMs: output.DurationMs,
	}, nil
}

func runValidation(v Validation, resp apiCheckOutput) validationResult {
	res := validationResult{Type: v.Type, PathOrKey: v.PathOrKey}
	switch v.Type {
	case "status_code":
		var want int
		if err := json.Unmarshal(v.Expected, &want); err != nil {
			res.Detail = "expected must be an integer status code"
			return res
		}
		res.Passed = resp.StatusCode == want
		if !res.Passed {
			res.Detail = fmt.Sprintf("got %d, want %d", resp.StatusCode, want)
		}
	case "header_equals":
		var want string
		if err := json.Unmarshal(v.Expected, &want); err != nil {
			res.Detail = "expected must be a string"
			return res
		}
		got := resp.Headers[http.CanonicalHeaderKey(v.PathOrKey)]
		res.Passed = got == want
		if !res.Passed {
			res.Detail = fmt.Sprintf("header %s: got %q, want %q", v.PathOrKey, got, want)
		}
	case "body_contains":
		var want string
		if err := json.Unmarshal(v.Expected, &want); err != nil {
			res.Detail = "expected must be a string"
			return res
		}
		res.Passed = strings.Contains(resp.Body, want)
		if !res.Passed {
			res.Detail = fmt.Sprintf("body does not contain %q", want)
		}
	case "json_path_equals":
		if v.PathOrKey == "" {
			res.Detail = "path_or_key is required for json_path_equals"
			return res
		}
		value := gjson.Get(resp.Body, v.PathOrKey)
		if !value.Exists() {
			res.Detail = fmt.Sprintf("path %q not found in body", v.PathOrKey)
			return res
		}
		res.Passed = jsonEqual(value, v.Expected)
		if !res.Passed {
			res.Detail = fmt.Sprintf("path %s: got %s, want %s", v.PathOrKey, value.Raw, string(v.Expected))
		}
	default:
		res.Detail = fmt.Sprintf("unknown validation type %q", v.Type)
	}
	return res
}

// jsonEqual compares a gjson result with an expected raw JSON value by
// normalizing both through Unmarshal.
func jsonEqual(got gjson.Result, expected json.RawMessage) bool {
	var want any
	if err := json.Unmarshal(expected, &want); err != nil {
		return false
	}
	var gotVal any
	if err := json.Unmarshal([]byte(got.Raw), &gotVal); err != nil {
		// Non-JSON scalar raw (shouldn't happen); fall back to string compare.
		return got.String() == fmt.Sprint(want)
	}
	a, _ := json.Marshal(gotVal)
	b, _ := json.Marshal(want)
	return bytes.Equal(a, b)
}
