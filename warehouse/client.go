// Package warehouse runs parameterised SQL statements against a Databricks SQL warehouse.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	tokenLifetimeSeconds = 3600
	tokenComment         = "access-broker student search"

	stateSucceeded = "SUCCEEDED"
	stateFailed    = "FAILED"
	stateCanceled  = "CANCELED"
	stateClosed    = "CLOSED"
)

var errStatementPending = errors.New("statement still running")

// Parameter is a named statement parameter, referenced as :name in SQL.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Result is the tabular outcome of a statement.
type Result struct {
	Columns []string
	Rows    [][]any
}

type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithPolling sets how often a running statement is checked and for how long.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.timeout = timeout
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		timeout:      30 * time.Second,
		pollInterval: time.Second,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTokenRequest struct {
	LifetimeSeconds int    `json:"lifetime_seconds"`
	Comment         string `json:"comment"`
}

type createTokenResponse struct {
	TokenValue string `json:"token_value"`
}

type statementRequest struct {
	Statement   string      `json:"statement"`
	WarehouseID string      `json:"warehouse_id"`
	Catalog     string      `json:"catalog,omitempty"`
	Schema      string      `json:"schema,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

type statementResponse struct {
	StatementID string `json:"statement_id"`
	State       string `json:"state"`
	Status      struct {
		State string `json:"state"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"status"`
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
	Result struct {
		DataArray [][]any `json:"data_array"`
	} `json:"result"`
}

func (s statementResponse) state() string {
	if s.Status.State != "" {
		return strings.ToUpper(s.Status.State)
	}
	return strings.ToUpper(s.State)
}

func (s statementResponse) toResult() Result {
	r := Result{Rows: s.Result.DataArray}
	for _, c := range s.Manifest.Schema.Columns {
		r.Columns = append(r.Columns, c.Name)
	}
	return r
}

// Execute obtains a short lived workspace token, submits the statement and waits for it to finish.
func (c *Client) Execute(ctx context.Context, ws config.Workspace, statement string, params []Parameter) (Result, error) {
	if ws.Host == "" || ws.WarehouseID == "" {
		return Result{}, fmt.Errorf("warehouse workspace is not configured")
	}

	token, err := c.createToken(ctx, ws)
	if err != nil {
		return Result{}, err
	}

	var submitted statementResponse
	err = c.do(ctx, http.MethodPost, ws.Host+"/api/2.0/sql/statements", bearer(token), statementRequest{
		Statement:   statement,
		WarehouseID: ws.WarehouseID,
		Catalog:     ws.Catalog,
		Schema:      ws.Schema,
		Parameters:  params,
	}, &submitted)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to submit statement")
	}

	switch submitted.state() {
	case stateSucceeded:
		return submitted.toResult(), nil
	case stateFailed, stateCanceled, stateClosed:
		return Result{}, fmt.Errorf("%w: %s", errors.ErrQueryFailed, submitted.Status.Error.Message)
	}

	done, err := c.wait(ctx, ws, token, submitted.StatementID)
	if err != nil {
		return Result{}, err
	}
	return done.toResult(), nil
}

// wait polls a running statement at a constant interval until it settles or the timeout passes.
func (c *Client) wait(ctx context.Context, ws config.Workspace, token, statementID string) (statementResponse, error) {
	url := fmt.Sprintf("%s/api/2.0/sql/statements/%s", ws.Host, statementID)

	poll := func() (statementResponse, error) {
		var resp statementResponse
		if err := c.do(ctx, http.MethodGet, url, bearer(token), nil, &resp); err != nil {
			c.logger.Debug().Err(err).Str("statement_id", statementID).Msg("statement poll failed")
			return resp, errStatementPending
		}
		switch resp.state() {
		case stateSucceeded:
			return resp, nil
		case stateFailed, stateCanceled, stateClosed:
			return resp, backoff.Permanent(fmt.Errorf("%w: %s", errors.ErrQueryFailed, resp.Status.Error.Message))
		default:
			return resp, errStatementPending
		}
	}

	resp, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(c.timeout),
	)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, errors.ErrQueryFailed):
		return statementResponse{}, err
	case errors.Is(err, errStatementPending), errors.Is(err, context.DeadlineExceeded):
		return statementResponse{}, errors.ErrQueryTimeout
	default:
		return statementResponse{}, err
	}
}

func (c *Client) createToken(ctx context.Context, ws config.Workspace) (string, error) {
	var resp createTokenResponse
	err := c.do(ctx, http.MethodPost, ws.Host+"/api/2.0/token/create", func(r *http.Request) {
		r.SetBasicAuth(ws.ClientID, ws.ClientSecret)
	}, createTokenRequest{LifetimeSeconds: tokenLifetimeSeconds, Comment: tokenComment}, &resp)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create warehouse token")
	}
	if resp.TokenValue == "" {
		return "", fmt.Errorf("warehouse returned an empty token")
	}
	return resp.TokenValue, nil
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) do(ctx context.Context, method, url string, auth func(*http.Request), body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("warehouse returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
