package deluge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/seedbox_migrator/internal/dc"
	"github.com/italolelis/seedbox_migrator/internal/logctx"
	"github.com/zeebo/bencode"
)

const (
	clientName       = "deluge"
	sessionCookie    = "_session_id"
	notAuthenticated = "Not authenticated"

	maxDescriptorSize = 10 * 1024 * 1024 // 10MB
)

// statusKeys are the torrent status fields requested for each completed torrent.
var statusKeys = []string{"save_path", "torrent_file", "name", "info_hashes", "peers"}

type Client struct {
	BaseURL   string
	Password  string
	ConfigDir string

	httpClient *http.Client
	cookie     string // session cookie
	nextID     int
}

type rpcRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

type torrentStatus struct {
	Name        string            `json:"name"`
	SavePath    string            `json:"save_path"`
	TorrentFile json.RawMessage   `json:"torrent_file"`
	Peers       []json.RawMessage `json:"peers"`
}

// NewClient creates a Deluge Web JSON-RPC client. A nil httpClient falls back
// to a client with a 10 second timeout.
func NewClient(baseURL, password, configDir string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		BaseURL:    baseURL,
		Password:   password,
		ConfigDir:  configDir,
		httpClient: httpClient,
	}
}

// Authenticate logs in with the configured password and keeps the session cookie.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "method", "auth.login")

	resp, cookies, err := c.call(ctx, "auth.login", []any{c.Password})
	if err != nil {
		logger.Error("login request failed", "err", err)

		return &dc.AuthenticationError{Client: clientName, Operation: "auth.login", Err: err}
	}

	if resp.Error != nil {
		return &dc.AuthenticationError{Client: clientName, Operation: "auth.login", Err: errors.New(resp.Error.Message)}
	}

	var ok bool
	if err := json.Unmarshal(resp.Result, &ok); err != nil || !ok {
		logger.Error("login rejected")

		return &dc.AuthenticationError{Client: clientName, Operation: "auth.login"}
	}

	for _, cookie := range cookies {
		if cookie.Name == sessionCookie {
			c.cookie = cookie.Value
		}
	}

	if c.cookie == "" {
		return &dc.AuthenticationError{Client: clientName, Operation: "auth.login", Err: errors.New("no session cookie in response")}
	}

	logger.Debug("authenticated")

	return nil
}

// Invoke calls an RPC method with the current session. A "Not authenticated"
// reply triggers one re-login and one retry of the same call.
func (c *Client) Invoke(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	resp, _, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	if isNotAuthenticated(resp) {
		logctx.LoggerFromContext(ctx).Warn("session rejected, re-authenticating", "client", clientName, "method", method)

		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}

		resp, _, err = c.call(ctx, method, params)
		if err != nil {
			return nil, err
		}

		if isNotAuthenticated(resp) {
			return nil, &dc.AuthenticationError{Client: clientName, Operation: method, Err: errors.New(notAuthenticated)}
		}
	}

	if resp.Error != nil {
		return nil, &dc.RPCError{Client: clientName, Operation: method, Message: resp.Error.Message, Code: resp.Error.Code}
	}

	return resp.Result, nil
}

// ListCompletedTasks returns every torrent at 100% progress, in the order Deluge reported them.
func (c *Client) ListCompletedTasks(ctx context.Context) ([]*dc.Task, error) {
	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "method", "core.get_torrents_status")

	result, err := c.Invoke(ctx, "core.get_torrents_status", map[string]any{"progress": []int{100}}, statusKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed torrents: %w", err)
	}

	tasks, err := decodeTasks(result)
	if err != nil {
		return nil, &dc.NetworkError{Client: clientName, Operation: "core.get_torrents_status", Message: "malformed result", Err: err}
	}

	if len(tasks) == 0 {
		return nil, dc.ErrNoTasks
	}

	logger.Debug("found completed torrents", "count", len(tasks))

	return tasks, nil
}

// FetchDescriptor reads <ConfigDir>/state/<id>.torrent. A missing file yields a nil descriptor.
func (c *Client) FetchDescriptor(ctx context.Context, taskID string) (*dc.Descriptor, error) {
	path := filepath.Join(c.ConfigDir, "state", taskID+".torrent")
	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "task_id", taskID, "path", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("torrent file not found")

			return nil, nil
		}

		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}

	if len(raw) > maxDescriptorSize {
		return nil, &dc.InvalidDescriptorError{
			TaskID: taskID,
			Reason: fmt.Sprintf("size %s exceeds maximum %s", humanize.Bytes(uint64(len(raw))), humanize.Bytes(maxDescriptorSize)),
		}
	}

	if err := validateMetainfo(taskID, raw); err != nil {
		return nil, err
	}

	logger.Debug("read torrent file", "size", humanize.Bytes(uint64(len(raw))))

	return &dc.Descriptor{TaskID: taskID, Raw: raw}, nil
}

// PauseTask pauses a torrent.
func (c *Client) PauseTask(ctx context.Context, taskID string) error {
	_, err := c.Invoke(ctx, "core.pause_torrent", taskID)

	return err
}

// RemoveTask removes a torrent. keepData leaves the downloaded content on disk.
func (c *Client) RemoveTask(ctx context.Context, taskID string, keepData bool) error {
	_, err := c.Invoke(ctx, "core.remove_torrent", taskID, !keepData)

	return err
}

// call performs a single POST to <BaseURL>/json without any re-authentication.
func (c *Client) call(ctx context.Context, method string, params []any) (*rpcResponse, []*http.Cookie, error) {
	logger := logctx.LoggerFromContext(ctx).With("client", clientName, "method", method)

	c.nextID++

	body, err := json.Marshal(rpcRequest{ID: c.nextID, Method: method, Params: params})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/json", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.cookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("HTTP error", "err", err)

		return nil, nil, &dc.NetworkError{Client: clientName, Operation: method, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))

		return nil, nil, &dc.NetworkError{Client: clientName, Operation: method, StatusCode: resp.StatusCode, Message: string(b)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)

		return nil, nil, &dc.NetworkError{Client: clientName, Operation: method, Message: "invalid JSON response", Err: err}
	}

	return &rpcResp, resp.Cookies(), nil
}

func isNotAuthenticated(resp *rpcResponse) bool {
	return resp.Error != nil && resp.Error.Message == notAuthenticated
}

// decodeTasks walks the result object token by token so the torrent order of
// the response is kept.
func decodeTasks(result json.RawMessage) ([]*dc.Task, error) {
	if len(bytes.TrimSpace(result)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(result))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, nil
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var tasks []*dc.Task

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}

		var status torrentStatus
		if err := dec.Decode(&status); err != nil {
			return nil, fmt.Errorf("failed to decode torrent %s: %w", id, err)
		}

		var torrentFile string
		_ = json.Unmarshal(status.TorrentFile, &torrentFile)

		tasks = append(tasks, &dc.Task{
			ID:          id,
			Name:        status.Name,
			SavePath:    status.SavePath,
			TorrentFile: torrentFile,
			Peers:       len(status.Peers),
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return tasks, nil
}

// validateMetainfo checks that raw is a bencoded dictionary carrying an info dictionary.
func validateMetainfo(taskID string, raw []byte) error {
	var metainfo any
	if err := bencode.DecodeBytes(raw, &metainfo); err != nil {
		return &dc.InvalidDescriptorError{TaskID: taskID, Reason: fmt.Sprintf("invalid bencode structure: %v", err), Err: err}
	}

	dict, ok := metainfo.(map[string]any)
	if !ok {
		return &dc.InvalidDescriptorError{TaskID: taskID, Reason: "bencode root must be a dictionary"}
	}

	if _, hasInfo := dict["info"]; !hasInfo {
		return &dc.InvalidDescriptorError{TaskID: taskID, Reason: "bencode missing required 'info' dictionary"}
	}

	return nil
}
