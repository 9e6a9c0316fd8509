package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"otcdesk/native/otc"
	"otcdesk/state"
	"otcdesk/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := otc.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	srv := httptest.NewServer(NewServer(engine, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method string, params interface{}) (*http.Response, *RPCResponse) {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	return resp, decoded
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, rpcResp := call(t, srv, "otc_noSuchMethod", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeMethodNotFound, rpcResp.Error.Code)
}

func TestEmptyBodyRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader("  "))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeInvalidRequest, decoded.Error.Code)
}

func TestMalformedJSONRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeParseError, decoded.Error.Code)
}

func TestInitDeskAndGetDesk(t *testing.T) {
	srv := newTestServer(t)

	owner := "0x" + strings.Repeat("01", 20)
	vault := "0x" + strings.Repeat("03", 20)
	approver := "0x" + strings.Repeat("04", 20)

	resp, rpcResp := call(t, srv, "otc_initDesk", map[string]interface{}{
		"owner":             owner,
		"vault":             vault,
		"approvers":         []string{approver},
		"requiredApprovals": 1,
		"minUsdAmount8":     500000000,
		"quoteExpirySecs":   900,
		"maxLockupSecs":     86400,
		"nativeDecimals":    18,
		"stableDecimals":    6,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	result, ok := rpcResp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, owner, result["owner"])
	require.Equal(t, vault, result["vault"])

	resp, rpcResp = call(t, srv, "otc_getDesk", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
	result, ok = rpcResp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, owner, result["owner"])
	require.Equal(t, float64(1), result["requiredApprovals"])

	// Re-initialising is rejected.
	resp, rpcResp = call(t, srv, "otc_initDesk", map[string]interface{}{
		"owner":             owner,
		"vault":             vault,
		"approvers":         []string{approver},
		"requiredApprovals": 1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeServerError, rpcResp.Error.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
