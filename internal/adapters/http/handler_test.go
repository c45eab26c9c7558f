package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHi(t *testing.T) {
	app := NewApp(NewHelloHandler("1.0.0"))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/hi", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello", string(body))
}

func TestHealth(t *testing.T) {
	app := NewApp(NewHelloHandler("1.0.0"))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "UP", payload["status"])
	assert.Equal(t, "1.0.0", payload["version"])
}

func TestUnknownRoute(t *testing.T) {
	app := NewApp(NewHelloHandler("1.0.0"))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/bye", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
