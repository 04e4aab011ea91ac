package browser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/browser/humanoid"
	"github.com/xkilldash9x/census/internal/browser/stealth"
	"github.com/xkilldash9x/census/internal/config"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestCookieParams(t *testing.T) {
	t.Run("optional attributes are only set when present", func(t *testing.T) {
		state := &schemas.SessionState{Records: []schemas.SessionRecord{
			{Name: "sessionid", Value: "abc", Domain: ".example.com", Path: "/", Expires: floatPtr(1893456000.5), Secure: boolPtr(true), HTTPOnly: boolPtr(true)},
			{Name: "csrftoken", Value: "def", Domain: ".example.com", Path: "/"},
		}}

		params := cookieParams(state)
		require.Len(t, params, 2)

		full := params[0]
		assert.Equal(t, "sessionid", full.Name)
		assert.Equal(t, ".example.com", full.Domain)
		assert.True(t, full.Secure)
		assert.True(t, full.HTTPOnly)
		require.NotNil(t, full.Expires)
		expires := time.Time(*full.Expires)
		assert.Equal(t, int64(1893456000), expires.Unix())
		assert.Equal(t, 500*time.Millisecond, time.Duration(expires.Nanosecond()))

		bare := params[1]
		assert.Nil(t, bare.Expires, "a record without expiry stays a session cookie")
		assert.False(t, bare.Secure)
		assert.False(t, bare.HTTPOnly)
	})

	t.Run("non-positive expiry is treated as a session cookie", func(t *testing.T) {
		params := cookieParams(&schemas.SessionState{Records: []schemas.SessionRecord{
			{Name: "a", Value: "b", Domain: "example.com", Path: "/", Expires: floatPtr(-1)},
		}})
		require.Len(t, params, 1)
		assert.Nil(t, params[0].Expires)
	})

	t.Run("nil and empty states produce nothing", func(t *testing.T) {
		assert.Nil(t, cookieParams(nil))
		assert.Nil(t, cookieParams(&schemas.SessionState{}))
	})

	t.Run("the source state is not modified", func(t *testing.T) {
		state := &schemas.SessionState{Records: []schemas.SessionRecord{
			{Name: "a", Value: "b", Domain: "example.com", Path: "/", Secure: boolPtr(false)},
		}}
		params := cookieParams(state)
		params[0].Value = "changed"
		assert.Equal(t, "b", state.Records[0].Value)
	})
}

func TestExportedCookieShape(t *testing.T) {
	// The exported dump is plain CDP cookie JSON, which the session bridge reads.
	data, err := json.Marshal([]*network.Cookie{{
		Name: "sessionid", Value: "abc", Domain: ".example.com", Path: "/",
		Expires: -1, Session: true, HTTPOnly: true, Secure: true,
	}})
	require.NoError(t, err)

	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "sessionid", raw[0]["name"])
	assert.Equal(t, true, raw[0]["session"])
	assert.Equal(t, true, raw[0]["httpOnly"])
	assert.EqualValues(t, -1, raw[0]["expires"])
}

func TestJSCall(t *testing.T) {
	expr, err := jsCall("function (a, b, c) { return a; }", "xpath", `//div[@role="dialog"]`, true)
	require.NoError(t, err)
	assert.Equal(t, `(function (a, b, c) { return a; })("xpath", "//div[@role=\"dialog\"]", true)`, expr)

	_, err = jsCall("function () {}", func() {})
	assert.Error(t, err, "unencodable arguments are rejected")
}

func TestEmbeddedScripts(t *testing.T) {
	assert.Contains(t, paginateJS, "scrollHeight")
	assert.Contains(t, clickJS, "click()")
}

func TestQueryOptions(t *testing.T) {
	assert.Len(t, queryOptions(schemas.CSS("div")), 2)
	assert.Len(t, queryOptions(schemas.XPath("//div")), 2)
	assert.Len(t, actionOptions(schemas.CSS("div")), 1)
	assert.Len(t, actionOptions(schemas.XPath("//div")), 1)
}

func TestPersonaFor(t *testing.T) {
	p := personaFor(config.BrowserConfig{})
	assert.Equal(t, stealth.DefaultPersona, p)

	p = personaFor(config.BrowserConfig{UserAgent: "custom", Viewport: config.ViewportConfig{Width: 800, Height: 600}})
	assert.Equal(t, "custom", p.UserAgent)
	assert.Equal(t, int64(800), p.Width)
	assert.Equal(t, int64(600), p.Height)
}

func TestGenerateAllocatorOptions(t *testing.T) {
	m := &Manager{
		logger:  zap.NewNop(),
		cfg:     config.BrowserConfig{Headless: false, ExecPath: "/opt/chrome", Args: []string{"--lang=en-US", "mute-audio", "--"}},
		persona: stealth.DefaultPersona,
	}
	base := len(m.generateAllocatorOptions())

	m.cfg.Args = nil
	withoutArgs := len(m.generateAllocatorOptions())
	assert.Equal(t, 2, base-withoutArgs, "empty flag names are skipped")
}

func TestBoxCenter(t *testing.T) {
	c, ok := boxCenter(&dom.BoxModel{Border: dom.Quad{10, 20, 110, 20, 110, 60, 10, 60}})
	require.True(t, ok)
	assert.Equal(t, humanoid.Vector2D{X: 60, Y: 40}, c)

	c, ok = boxCenter(&dom.BoxModel{Content: dom.Quad{0, 0, 4, 0, 4, 2, 0, 2}})
	require.True(t, ok, "content quad is the fallback")
	assert.Equal(t, humanoid.Vector2D{X: 2, Y: 1}, c)

	_, ok = boxCenter(&dom.BoxModel{})
	assert.False(t, ok)
	_, ok = boxCenter(nil)
	assert.False(t, ok)
}

func TestNewPagePointer(t *testing.T) {
	cfg := config.BrowserConfig{Viewport: config.ViewportConfig{Width: 800, Height: 600}}
	p := newPage(context.Background(), func() {}, zap.NewNop(), cfg, nil, "p1")
	assert.Nil(t, p.pointer)

	cfg.Pointer = config.PointerConfig{Enabled: true, MinSteps: 4, Drift: 2}
	p = newPage(context.Background(), func() {}, zap.NewNop(), cfg, nil, "p2")
	require.NotNil(t, p.pointer)
	assert.Equal(t, humanoid.Vector2D{X: 400, Y: 300}, p.pointer.Position())
}
