package rednote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baohengtao/redbook/pkg/config"
	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/signer"
)

// noopPacer never waits, so gateway tests run instantly
type noopPacer struct{}

func (noopPacer) Pace(ctx context.Context) (time.Duration, error) { return 0, nil }
func (noopPacer) Reset()                                          {}

func testSigner() *signer.Signer {
	session := &signer.Session{
		Account: "test",
		Cookies: map[string]string{
			"a1":          "deadbeef",
			"web_session": "cafebabe",
		},
	}
	sign := func(ctx context.Context, api string, body []byte, a1, b1 string) (*signer.Signature, error) {
		return &signer.Signature{XS: "xs", XT: "xt", XSCommon: "common", TraceID: "trace"}, nil
	}
	return signer.New(session, sign)
}

func newTestGateway(t *testing.T, handler http.Handler) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gw := NewGateway(testSigner(), noopPacer{}, config.RetryConfig{
		MaxAttempts:  5,
		CooldownUnit: time.Millisecond,
	}, nil)
	gw.SetAPIBase(server.URL)
	return gw, server
}

func okEnvelope(data interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"msg":     "成功",
		"code":    0,
		"data":    data,
	})
	return payload
}

func TestGetJSONRetriesTransientFailures(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(okEnvelope(map[string]interface{}{"ok": true}))
	}))

	data, err := gw.GetJSON(context.Background(), "/api/test")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetJSONHardBlockAbortsImmediately(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(StatusHardBlock)
	}))

	_, err := gw.GetJSON(context.Background(), "/api/test")

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeHardBlock, apiErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "hard block must not be retried")
	assert.True(t, IsHardBlock(err))
}

func TestGetJSONRejectsFailedEnvelope(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(map[string]interface{}{
			"success": false,
			"msg":     "登录已过期",
			"code":    -100,
		})
		w.Write(payload)
	}))

	_, err := gw.GetJSON(context.Background(), "/api/test")

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeAuth, apiErr.Type)
	assert.Equal(t, -100, apiErr.Code)
}

func TestGetJSONSendsSignatureHeaders(t *testing.T) {
	var gotHeaders http.Header
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write(okEnvelope(nil))
	}))

	_, err := gw.GetJSON(context.Background(), "/api/test")
	require.NoError(t, err)

	assert.Equal(t, "xs", gotHeaders.Get("X-S"))
	assert.Equal(t, "xt", gotHeaders.Get("X-T"))
	assert.Equal(t, "common", gotHeaders.Get("X-S-Common"))
	assert.Equal(t, "trace", gotHeaders.Get("X-B3-Traceid"))
	assert.Contains(t, gotHeaders.Get("Cookie"), "a1=deadbeef")
}

func TestPostJSONSendsBody(t *testing.T) {
	var gotBody map[string]interface{}
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(okEnvelope(nil))
	}))

	_, err := gw.PostJSON(context.Background(), APIFeed, newFeedRequest("n1", "tok"))
	require.NoError(t, err)
	assert.Equal(t, "n1", gotBody["source_note_id"])
	assert.Equal(t, "tok", gotBody["xsec_token"])
}

func TestGetJSONGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := gw.GetJSON(context.Background(), "/api/test")
	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestValidUserID(t *testing.T) {
	assert.True(t, ValidUserID("5eb8e1a90000000001001234"))
	assert.False(t, ValidUserID("5EB8E1A90000000001001234"))
	assert.False(t, ValidUserID("short"))
	assert.False(t, ValidUserID("5eb8e1a90000000001001234x"))
}

func TestExtractInitialState(t *testing.T) {
	html := []byte(`<html><head><script>window.__INITIAL_STATE__={"user":{"userPageData":{"basicInfo":{"nickname":"山野食记"},"fans":undefined}}}</script></head><body></body></html>`)

	state, err := extractInitialState(html)
	require.NoError(t, err)

	user := state["user"].(map[string]interface{})
	pageData := user["userPageData"].(map[string]interface{})
	basic := pageData["basicInfo"].(map[string]interface{})
	assert.Equal(t, "山野食记", basic["nickname"])
	assert.Nil(t, pageData["fans"])
}

func TestExtractInitialStateMissing(t *testing.T) {
	_, err := extractInitialState([]byte("<html><body>nothing here</body></html>"))
	assert.Error(t, err)
}
