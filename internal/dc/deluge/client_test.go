package deluge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/italolelis/seedbox_migrator/internal/dc"
	"github.com/italolelis/seedbox_migrator/internal/dc/deluge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	Method string
	Params []json.RawMessage
	Cookie string
}

// fakeDeluge serves /json. It answers auth.login for password and can be told
// to reply "Not authenticated" to the next n non-login calls.
type fakeDeluge struct {
	mu       sync.Mutex
	password string
	rejectN  int
	results  map[string]string
	calls    []rpcCall
}

func newFakeDeluge(t *testing.T, password string) (*fakeDeluge, *httptest.Server) {
	t.Helper()

	f := &fakeDeluge{password: password, results: map[string]string{}}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)

	return f, ts
}

func (f *fakeDeluge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/json" {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	var req struct {
		ID     int               `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	call := rpcCall{Method: req.Method, Params: req.Params}
	if c, err := r.Cookie("_session_id"); err == nil {
		call.Cookie = c.Value
	}

	f.calls = append(f.calls, call)

	w.Header().Set("Content-Type", "application/json")

	if req.Method == "auth.login" {
		var password string
		_ = json.Unmarshal(req.Params[0], &password)

		if password != f.password {
			fmt.Fprintf(w, `{"id":%d,"result":false,"error":null}`, req.ID)

			return
		}

		http.SetCookie(w, &http.Cookie{Name: "_session_id", Value: fmt.Sprintf("session-%d", len(f.calls))})
		fmt.Fprintf(w, `{"id":%d,"result":true,"error":null}`, req.ID)

		return
	}

	if f.rejectN > 0 {
		f.rejectN--
		fmt.Fprintf(w, `{"id":%d,"result":null,"error":{"message":"Not authenticated","code":1}}`, req.ID)

		return
	}

	result, ok := f.results[req.Method]
	if !ok {
		result = "null"
	}

	fmt.Fprintf(w, `{"id":%d,"result":%s,"error":null}`, req.ID, result)
}

func (f *fakeDeluge) setResult(method, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results[method] = result
}

func (f *fakeDeluge) reject(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rejectN = n
}

func (f *fakeDeluge) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}

	return out
}

func (f *fakeDeluge) lastCall(method string) rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}

	return rpcCall{}
}

func TestNewClient(t *testing.T) {
	client := deluge.NewClient("http://localhost:8112", "secret", "/config", nil)

	assert.Equal(t, "http://localhost:8112", client.BaseURL)
	assert.Equal(t, "secret", client.Password)
	assert.Equal(t, "/config", client.ConfigDir)
}

func TestAuthenticate(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	f.setResult("core.pause_torrent", "null")
	require.NoError(t, client.PauseTask(context.Background(), "abc"))

	assert.Equal(t, "session-1", f.lastCall("core.pause_torrent").Cookie)
}

func TestAuthenticate_Error(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "wrong password",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"id":1,"result":false,"error":null}`)
			},
		},
		{
			name: "rpc error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"id":1,"result":null,"error":{"message":"boom","code":2}}`)
			},
		},
		{
			name: "unauthorized status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "missing session cookie",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"id":1,"result":true,"error":null}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
			err := client.Authenticate(context.Background())

			var authErr *dc.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.True(t, dc.IsFatal(err))
			assert.Contains(t, err.Error(), "authentication failed")
		})
	}
}

func TestInvoke_ReauthenticatesOnce(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")
	f.setResult("core.pause_torrent", "null")

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	f.reject(1)

	require.NoError(t, client.PauseTask(context.Background(), "abc"))
	assert.Equal(t, []string{"auth.login", "core.pause_torrent", "auth.login", "core.pause_torrent"}, f.methods())
	assert.Equal(t, "session-3", f.lastCall("core.pause_torrent").Cookie)
}

func TestInvoke_SecondRejectionIsFatal(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	f.reject(2)

	err := client.PauseTask(context.Background(), "abc")

	var authErr *dc.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "core.pause_torrent", authErr.Operation)
	assert.Equal(t, []string{"auth.login", "core.pause_torrent", "auth.login", "core.pause_torrent"}, f.methods())
}

func TestInvoke_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer ts.Close()

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	_, err := client.Invoke(context.Background(), "core.get_torrents_status")

	var netErr *dc.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
	assert.True(t, dc.IsFatal(err))
}

func TestInvoke_RPCErrorIsRecoverable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":1,"result":null,"error":{"message":"Torrent not found","code":4}}`)
	}))
	defer ts.Close()

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	err := client.RemoveTask(context.Background(), "abc", true)

	var rpcErr *dc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "Torrent not found", rpcErr.Message)
	assert.False(t, dc.IsFatal(err))
}

func TestListCompletedTasks(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")
	f.setResult("core.get_torrents_status", `{
		"zzz111": {"name": "Last Alphabetically", "save_path": "/data/tv", "torrent_file": null, "peers": []},
		"aaa222": {"name": "Seeding", "save_path": "/data/movies", "torrent_file": "/config/state/aaa222.torrent", "peers": [{"ip": "1.2.3.4:5000"}]}
	}`)

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	tasks, err := client.ListCompletedTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "zzz111", tasks[0].ID)
	assert.Equal(t, "Last Alphabetically", tasks[0].Name)
	assert.Equal(t, "/data/tv", tasks[0].SavePath)
	assert.False(t, tasks[0].HasActivePeers())

	assert.Equal(t, "aaa222", tasks[1].ID)
	assert.Equal(t, "/config/state/aaa222.torrent", tasks[1].TorrentFile)
	assert.Equal(t, 1, tasks[1].Peers)

	call := f.lastCall("core.get_torrents_status")
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `{"progress":[100]}`, string(call.Params[0]))
	assert.JSONEq(t, `["save_path","torrent_file","name","info_hashes","peers"]`, string(call.Params[1]))
}

func TestListCompletedTasks_Empty(t *testing.T) {
	for _, result := range []string{`{}`, `null`} {
		t.Run(result, func(t *testing.T) {
			f, ts := newFakeDeluge(t, "secret")
			f.setResult("core.get_torrents_status", result)

			client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
			require.NoError(t, client.Authenticate(context.Background()))

			_, err := client.ListCompletedTasks(context.Background())
			assert.ErrorIs(t, err, dc.ErrNoTasks)
		})
	}
}

func TestListCompletedTasks_Malformed(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")
	f.setResult("core.get_torrents_status", `["not", "an", "object"]`)

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	_, err := client.ListCompletedTasks(context.Background())

	var netErr *dc.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestRemoveTask_KeepData(t *testing.T) {
	f, ts := newFakeDeluge(t, "secret")

	client := deluge.NewClient(ts.URL, "secret", "", ts.Client())
	require.NoError(t, client.Authenticate(context.Background()))

	require.NoError(t, client.RemoveTask(context.Background(), "abc", true))

	call := f.lastCall("core.remove_torrent")
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `"abc"`, string(call.Params[0]))
	assert.JSONEq(t, `false`, string(call.Params[1]))
}

func writeState(t *testing.T, dir, id string, content []byte) {
	t.Helper()

	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, id+".torrent"), content, 0o600))
}

func TestFetchDescriptor(t *testing.T) {
	dir := t.TempDir()
	valid := []byte("d8:announce3:url4:infod4:name4:testee")
	writeState(t, dir, "abc", valid)

	client := deluge.NewClient("http://unused", "secret", dir, nil)

	d, err := client.FetchDescriptor(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "abc", d.TaskID)
	assert.Equal(t, valid, d.Raw)
}

func TestFetchDescriptor_Missing(t *testing.T) {
	client := deluge.NewClient("http://unused", "secret", t.TempDir(), nil)

	d, err := client.FetchDescriptor(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestFetchDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		reason  string
	}{
		{"not bencode", []byte("not bencode at all"), "invalid bencode structure"},
		{"list root", []byte("l4:teste"), "root must be a dictionary"},
		{"missing info", []byte("d4:name4:teste"), "missing required 'info'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeState(t, dir, "abc", tt.content)

			client := deluge.NewClient("http://unused", "secret", dir, nil)
			d, err := client.FetchDescriptor(context.Background(), "abc")
			assert.Nil(t, d)

			var invalid *dc.InvalidDescriptorError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, invalid.Reason, tt.reason)
			assert.False(t, dc.IsFatal(err))
		})
	}
}
