package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ahrdadan/shoprobot/internal/config"
	"github.com/ahrdadan/shoprobot/internal/engine"
	"github.com/ahrdadan/shoprobot/internal/queue"
)

func TestRunBudgetStartsAfterPreviousRun(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.DefaultConfig()
	cfg.Engine = config.EngineFixture

	registry := engine.NewRegistry(cfg, logger)
	defer registry.Close()
	h := NewHandler(registry, queue.NewRunProcessor(registry, cfg.RobotConfig(), logger), 500*time.Millisecond, logger)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/robot/run", h.Run)

	// Another run holds the browser for longer than the whole budget.
	h.runMu.Lock()
	go func() {
		time.Sleep(time.Second)
		h.runMu.Unlock()
	}()

	req := httptest.NewRequest(http.MethodPost, "/robot/run", strings.NewReader(`{"target":"trail"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body struct {
		Success bool        `json:"success"`
		Data    RunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	assert.True(t, body.Success, body.Data.Outcome.Message)
	assert.Equal(t, "Nike Pegasus Trail 5", body.Data.Outcome.Title)
}
