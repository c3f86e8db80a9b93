package testutils

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devbridge/internal/buildtool"
)

func TestCreateTempProject(t *testing.T) {
	projectDir := CreateTempProject(t)

	for _, name := range []string{"index.html", "main.html", "subpath/index.html", "src/main.js"} {
		info, err := os.Stat(filepath.Join(projectDir, name))
		require.NoError(t, err)
		assert.False(t, info.IsDir(), "Expected %s to be a file", name)
	}
}

func TestFakeToolBuild(t *testing.T) {
	projectDir := CreateTempProject(t)
	tool := &FakeTool{}

	require.NoError(t, tool.Build(context.Background(), buildtool.Request{WorkDir: projectDir}))
	assert.Equal(t, 1, tool.BuildCalls())

	content, err := os.ReadFile(filepath.Join(projectDir, "dist", "subpath", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, Document("subpath"), string(content))
}

func TestFakeDevServer(t *testing.T) {
	srv := NewFakeDevServer(map[string]string{"/src/main.js": "export {}"})
	defer srv.Close()

	resp, err := http.Get(srv.URL().String() + "/src/main.js?v=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export {}", string(body))
	assert.Equal(t, "v=1", resp.Header.Get("X-Query"))

	html, err := srv.TransformHTML(context.Background(), "/nested/", Document("x"))
	require.NoError(t, err)
	assert.Contains(t, html, "<!-- url:/nested/ -->")
	assert.Equal(t, []string{"/nested/"}, srv.TransformURLs())

	require.NoError(t, srv.Close())
	assert.True(t, srv.Closed())
	require.NoError(t, srv.Close())
}
