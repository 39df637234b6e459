package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/seedbox_migrator/internal/dc"
	"github.com/italolelis/seedbox_migrator/internal/logctx"
)

const (
	clientName = "transmission"
	rpcPath    = "/transmission/rpc"

	// SessionIDHeader carries the CSRF session token Transmission hands out on 409.
	SessionIDHeader = "X-Transmission-Session-Id"

	resultSuccess = "success"
)

// Client talks to the Transmission RPC endpoint. It holds no session until
// the server demands one with a 409.
type Client struct {
	BaseURL  string
	Username string
	Password string

	httpClient *http.Client
	sessionID  string
}

type Request struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type Response struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type torrentGetArguments struct {
	Fields []string `json:"fields"`
	IDs    []string `json:"ids"`
}

type torrentAddArguments struct {
	MetaInfo    string `json:"metainfo"`
	DownloadDir string `json:"download-dir"`
	Paused      bool   `json:"paused"`
}

type AddedTorrent struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString"`
}

// NewClient creates a Transmission RPC client. Username and password are sent
// as HTTP basic auth when set.
func NewClient(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		BaseURL:    baseURL,
		Username:   username,
		Password:   password,
		httpClient: httpClient,
	}
}

// SessionID returns the session token captured from the last 409 response.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Authenticate issues session-get so the 409 handshake happens before the first real call.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.Do(ctx, "session-get", nil)
	if err != nil {
		return err
	}

	if resp.Result != resultSuccess {
		return &dc.AuthenticationError{Client: clientName, Operation: "session-get", Err: errors.New(resp.Result)}
	}

	logctx.LoggerFromContext(ctx).Debug("session established", "client", clientName)

	return nil
}

// TaskExists reports whether Transmission already manages a torrent with the given hash.
func (c *Client) TaskExists(ctx context.Context, taskID string) (bool, error) {
	resp, err := c.Do(ctx, "torrent-get", torrentGetArguments{Fields: []string{"name"}, IDs: []string{taskID}})
	if err != nil {
		return false, err
	}

	if resp.Result != resultSuccess {
		return false, &dc.RPCError{Client: clientName, Operation: "torrent-get", Message: resp.Result}
	}

	var args struct {
		Torrents []json.RawMessage `json:"torrents"`
	}
	if err := json.Unmarshal(resp.Arguments, &args); err != nil {
		return false, fmt.Errorf("failed to decode torrent-get arguments: %w", err)
	}

	return len(args.Torrents) > 0, nil
}

// AddTask submits a torrent in a paused state with the given download directory
// and returns the hash Transmission assigned. A nil descriptor or a rejected
// submission returns an empty hash and no error; only transport and session
// failures are returned as errors.
func (c *Client) AddTask(ctx context.Context, d *dc.Descriptor, downloadDir string) (string, error) {
	if d == nil {
		return "", nil
	}

	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "task_id", d.TaskID, "download_dir", downloadDir)

	logger.Debug("adding torrent", "size", humanize.Bytes(uint64(d.Size())))

	resp, err := c.Do(ctx, "torrent-add", torrentAddArguments{
		MetaInfo:    d.Base64(),
		DownloadDir: downloadDir,
		Paused:      true,
	})
	if err != nil {
		return "", err
	}

	if resp.Result != resultSuccess {
		logger.Error("failed to add torrent", "result", resp.Result)

		return "", nil
	}

	var args struct {
		Added     *AddedTorrent `json:"torrent-added"`
		Duplicate *AddedTorrent `json:"torrent-duplicate"`
	}
	if err := json.Unmarshal(resp.Arguments, &args); err != nil {
		logger.Error("failed to add torrent", "err", err, "arguments", string(resp.Arguments))

		return "", nil
	}

	if args.Added == nil || args.Added.HashString == "" {
		logger.Error("failed to add torrent", "duplicate", args.Duplicate != nil, "arguments", string(resp.Arguments))

		return "", nil
	}

	return args.Added.HashString, nil
}

// Do sends an RPC request. On 409 the session token is taken from the response
// header and the identical request is retried exactly once.
func (c *Client) Do(ctx context.Context, method string, arguments any) (*Response, error) {
	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "method", method)

	body, err := json.Marshal(Request{Method: method, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	resp, err := c.post(ctx, method, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusConflict {
		c.sessionID = resp.Header.Get(SessionIDHeader)
		resp.Body.Close()

		if c.sessionID == "" {
			return nil, &dc.AuthenticationError{Client: clientName, Operation: method, Err: errors.New("409 without session id")}
		}

		logger.Debug("captured session id, retrying")

		resp, err = c.post(ctx, method, body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusConflict {
			resp.Body.Close()

			return nil, &dc.AuthenticationError{Client: clientName, Operation: method, Err: errors.New("session id rejected")}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &dc.AuthenticationError{Client: clientName, Operation: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))

		return nil, &dc.NetworkError{Client: clientName, Operation: method, StatusCode: resp.StatusCode, Message: string(b)}
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)

		return nil, &dc.NetworkError{Client: clientName, Operation: method, Message: "invalid JSON response", Err: err}
	}

	return &rpcResp, nil
}

func (c *Client) post(ctx context.Context, method string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+rpcPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(SessionIDHeader, c.sessionID)

	if c.Username != "" || c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("HTTP error", "client", clientName, "method", method, "err", err)

		return nil, &dc.NetworkError{Client: clientName, Operation: method, Message: err.Error(), Err: err}
	}

	return resp, nil
}
