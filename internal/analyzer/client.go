// Package analyzer talks to the external bytecode and source analyzers over
// their JSON request/response contract.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/ingest"
	"github.com/DeusData/callgraph-mcp/internal/resolver"
)

// DefaultTimeout bounds one analyzer request.
const DefaultTimeout = 10 * time.Minute

const maxBody = 1 << 30

// Client calls one analyzer service.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New returns a client for the analyzer at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    http.DefaultClient,
	}
}

// IndexRequest asks for the symbols declared under package roots.
type IndexRequest struct {
	PackageRoots []string `json:"packageRoots"`
	Domains      []string `json:"domains,omitempty"`
}

type indexResponse struct {
	Success bool              `json:"success"`
	Symbols []resolver.Symbol `json:"symbols"`
	Error   string            `json:"error,omitempty"`
}

// Index returns the FQN to URI mapping of the given package roots.
func (c *Client) Index(ctx context.Context, req IndexRequest) ([]resolver.Symbol, error) {
	var resp indexResponse
	if err := c.post(ctx, "/index", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("index %v: analyzer reported failure: %s", req.PackageRoots, resp.Error)
	}
	return resp.Symbols, nil
}

// AnalyzeRequest selects what to analyze. The bytecode analyzer takes class
// files or package roots; the source analyzer takes files plus the repos used
// for type resolution.
type AnalyzeRequest struct {
	ClassFiles   []string `json:"classFiles,omitempty"`
	PackageRoots []string `json:"packageRoots,omitempty"`
	Files        []string `json:"files,omitempty"`
	Repos        []string `json:"repos,omitempty"`
	Domains      []string `json:"domains,omitempty"`
}

// AnalyzeResponse carries either class structures (bytecode) or per-file
// usage records (source).
type AnalyzeResponse struct {
	Success bool         `json:"success"`
	Classes []Class      `json:"classes,omitempty"`
	Results []FileResult `json:"results,omitempty"`
	Failed  int          `json:"failed,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// FileResult is the source analyzer's outcome for one file.
type FileResult struct {
	File    string       `json:"file"`
	Success bool         `json:"success"`
	Errors  []string     `json:"errors,omitempty"`
	Usages  []fact.Usage `json:"usages,omitempty"`
}

// Analyze runs the analyzer. A response without success is an error unless it
// carries per-file results, whose failures are reported individually.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	var resp AnalyzeResponse
	if err := c.post(ctx, "/analyze", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success && len(resp.Results) == 0 {
		msg := resp.Error
		if msg == "" {
			msg = "analyzer reported failure"
		}
		return nil, errors.New("analyze: " + msg)
	}
	return &resp, nil
}

// Producer analyzes req and feeds the resulting facts to the ingest writer.
func (c *Client) Producer(req AnalyzeRequest) ingest.Producer {
	return func(ctx context.Context, emit func(ingest.Fact) error) error {
		resp, err := c.Analyze(ctx, req)
		if err != nil {
			return err
		}
		for _, f := range resp.Facts() {
			if err := emit(f); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analyzer %s status=%d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}
