package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	base := NewManager(config.BrowserConfig{Headless: true}, logger).allocatorOptions()
	assert.Greater(t, len(base), len(chromedp.DefaultExecAllocatorOptions))

	t.Run("custom args add one flag each", func(t *testing.T) {
		m := NewManager(config.BrowserConfig{
			Headless: true,
			Args:     []string{"--lang=pt-BR", "--start-maximized"},
		}, logger)
		assert.Len(t, m.allocatorOptions(), len(base)+2)
	})

	t.Run("exec path is optional", func(t *testing.T) {
		m := NewManager(config.BrowserConfig{Headless: true, ExecPath: "/usr/bin/chromium"}, logger)
		assert.Len(t, m.allocatorOptions(), len(base)+1)
	})
}

func TestShutdownBeforeLaunch(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}

func TestTabCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	released := 0
	tb := &tab{
		ctx:    ctx,
		cancel: cancel,
		logger: zaptest.NewLogger(t),
		done:   func() { released++ },
	}

	assert.NoError(t, tb.Close())
	assert.NoError(t, tb.Close())
	assert.Equal(t, 1, released)
	assert.Error(t, ctx.Err(), "closing cancels the tab context")
}

func TestOpTimeout(t *testing.T) {
	bg := context.Background()
	assert.Equal(t, 20*time.Second, opTimeout(bg, 0, 20*time.Second))
	assert.Equal(t, 5*time.Second, opTimeout(bg, 5*time.Second, 20*time.Second))
	assert.Zero(t, opTimeout(bg, 0, 0))

	t.Run("longer caller deadline wins", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(bg, time.Minute)
		defer cancel()
		got := opTimeout(ctx, 0, 20*time.Second)
		assert.Greater(t, got, 50*time.Second)
		assert.LessOrEqual(t, got, time.Minute)
	})

	t.Run("shorter caller deadline keeps the op bound", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(bg, time.Second)
		defer cancel()
		assert.Equal(t, 20*time.Second, opTimeout(ctx, 0, 20*time.Second))
	})
}

func TestInitializeRetriesFailedLaunch(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	launches := 0
	m.launch = func() (context.Context, context.CancelFunc, error) {
		launches++
		if launches == 1 {
			return nil, nil, errors.New("chrome exited")
		}
		ctx, cancel := context.WithCancel(context.Background())
		return ctx, cancel, nil
	}

	_, err := m.initialize()
	assert.ErrorContains(t, err, "chrome exited")

	first, err := m.initialize()
	assert.NoError(t, err)
	again, err := m.initialize()
	assert.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 2, launches)

	assert.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, first.Err(), "shutdown stops the browser")
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestInitializeRelaunchesExitedBrowser(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	var cancels []context.CancelFunc
	m.launch = func() (context.Context, context.CancelFunc, error) {
		ctx, cancel := context.WithCancel(context.Background())
		cancels = append(cancels, cancel)
		return ctx, cancel, nil
	}

	first, err := m.initialize()
	assert.NoError(t, err)
	cancels[0]()

	second, err := m.initialize()
	assert.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Len(t, cancels, 2)
	assert.NoError(t, m.Shutdown(context.Background()))
}
