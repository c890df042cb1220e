// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/riskform-cli/internal/config"
)

const (
	defaultBrowserTestTimeout = 90 * time.Second
	testCleanupGracePeriod    = time.Second
	shutdownTimeout           = 15 * time.Second
	semaphoreAcquireTimeout   = 30 * time.Second
)

var (
	// processSemaphore limits concurrent browser processes across parallel tests.
	processSemaphore     *semaphore.Weighted
	processSemaphoreOnce sync.Once
)

func getProcessSemaphore() *semaphore.Weighted {
	processSemaphoreOnce.Do(func() {
		processSemaphore = semaphore.NewWeighted(2)
	})
	return processSemaphore
}

// findChrome returns the path of a Chrome or Chromium binary, or "".
func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// formFixtureHTML mimics the markup of the risk form: labels followed by a
// sibling container holding the input, and an "add alternative" button that
// appends a new text/weight pair asynchronously.
const formFixtureHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>fixture</title></head>
<body>
  <form onsubmit="return false">
    <div><label>Pergunta *</label><div><input id="question" type="text"></div></div>
    <div><label>Peso da Pergunta</label><div><input id="weight" type="text"></div></div>
    <div><label>Observação</label><div><input id="obs" type="text" value="preset"></div></div>
    <div><label>Travado</label><div><input id="locked" type="text" value="fixo" readonly></div></div>
    <div><label>Maiúsculo</label><div><input id="upper" type="text" oninput="this.value = this.value.toUpperCase()"></div></div>
    <div id="alternatives"></div>
    <button type="button" id="add-alt">Adicionar Alternativa</button>
    <button type="button" id="login" onclick="document.body.dataset.clicked = 'login'">Login</button>
    <div id="toolbar"><button type="button" onclick="window.saves = (window.saves || 0) + 1">Salvar</button></div>
  </form>
  <script>
    // rerenderSave swaps the Salvar button for a fresh copy, as a framework
    // re-render would.
    function rerenderSave() {
      var toolbar = document.getElementById('toolbar');
      toolbar.replaceChild(toolbar.firstElementChild.cloneNode(true), toolbar.firstElementChild);
    }
    document.getElementById('add-alt').addEventListener('click', function () {
      setTimeout(function () {
        var row = document.createElement('div');
        row.innerHTML = '<div><label>Texto da Alternativa</label><div><input type="text"></div></div>' +
          '<div><label>Peso</label><div><input type="text"></div></div>';
        document.getElementById('alternatives').appendChild(row);
      }, 150);
    });
  </script>
</body></html>`

type testFixture struct {
	Manager *Manager
	Session *Session
	Logger  *zap.Logger
	Ctx     context.Context
	URL     string
}

// newTestFixture launches a headless browser, opens a session and serves the
// form fixture. It skips the test when no browser is available.
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome or Chromium binary found")
	}

	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))

	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBrowserTestTimeout)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline.Add(-testCleanupGracePeriod))
	t.Cleanup(cancel)

	sem := getProcessSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(ctx, semaphoreAcquireTimeout)
	err := sem.Acquire(acquireCtx, 1)
	acquireCancel()
	require.NoError(t, err, "failed to acquire browser semaphore")
	t.Cleanup(func() { sem.Release(1) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(formFixtureHTML))
	}))
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig().Browser
	cfg.Headless = true
	cfg.ExecPath = chrome
	cfg.RetryBackoff = 50 * time.Millisecond

	m, err := NewManager(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = m.Shutdown(shutdownCtx)
	})

	s, err := m.NewSession(ctx, 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Navigate(ctx, server.URL))

	return &testFixture{Manager: m, Session: s, Logger: logger, Ctx: ctx, URL: server.URL}
}
