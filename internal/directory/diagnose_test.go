package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/census/api/schemas"
)

const stalledDoc = `<html><body>
<nav><a href="/explore/">Explore</a><a href="/owner/">Me</a></nav>
<div role="dialog">
  <a href="/alice/">alice</a>
  <a href="/bob/">bob</a>
  <a>no href</a>
</div>
<script>var x = "<a href='/ghost/'>";</script>
</body></html>`

func TestDiagnose(t *testing.T) {
	filter := newHandleFilter(baseURL, owner, []string{"explore"})

	t.Run("css panel", func(t *testing.T) {
		snap, err := diagnose(stalledDoc, panel, filter)
		require.NoError(t, err)
		assert.Equal(t, snapshot{Panels: 1, Links: 4, Profiles: 2}, snap)
	})

	t.Run("xpath panel", func(t *testing.T) {
		snap, err := diagnose(stalledDoc, panelXPath, filter)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Panels)
	})

	t.Run("panel gone", func(t *testing.T) {
		snap, err := diagnose(`<html><body><a href="/carol/">c</a></body></html>`, panelXPath, filter)
		require.NoError(t, err)
		assert.Equal(t, snapshot{Panels: 0, Links: 1, Profiles: 1}, snap)
	})

	t.Run("invalid xpath", func(t *testing.T) {
		_, err := diagnose(stalledDoc, schemas.XPath("//div[@role="), filter)
		assert.Error(t, err)
	})
}

func TestExtract_StagnationLogsDiagnostics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	page := directoryPage(names("user", 3), 3)
	page.Body = `<div role="dialog"><a href="/user000/">a</a><a href="/user001/">b</a><a href="/user002/">c</a></div>`
	e := New(zap.New(core), testConfig(), baseURL)

	res, err := e.Extract(context.Background(), page, owner, "followers", 10)
	require.NoError(t, err)
	assert.Equal(t, schemas.ReasonStagnation, res.Reason)

	entries := logs.FilterMessage("Panel diagnostics").All()
	require.Len(t, entries, 2, "one report every five scans without progress")
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields["panels"])
	assert.EqualValues(t, 3, fields["profile_links"])
	assert.EqualValues(t, 3, fields["seen"])
}
