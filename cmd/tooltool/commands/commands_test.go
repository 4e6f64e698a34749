package commands

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tooltool/pkg/app/apptest"
	"tooltool/pkg/auth"
	"tooltool/pkg/client"
	"tooltool/pkg/server"
	"tooltool/pkg/types"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8090", localURL(":8090"))
	assert.Equal(t, "http://10.0.0.1:80", localURL("10.0.0.1:80"))
}

func TestTokenCommand(t *testing.T) {
	viper.Set("auth.secret", "cli-secret")
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "ci@example.com", "--scope", "tooltool/upload/*", "--scope", "tooltool/download/public"})
	require.NoError(t, rootCmd.Execute())

	tokens, err := auth.NewTokens("cli-secret")
	require.NoError(t, err)
	p, err := tokens.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ci@example.com", p.Subject)
	assert.True(t, p.Can(auth.UploadPermission(types.Internal)))
	assert.False(t, p.Can(auth.DownloadPermission(types.Internal)))
}

// TestFetchCommand 真实 HTTP 服务 + 内存存储，从清单取回已校验的文件
func TestFetchCommand(t *testing.T) {
	t.Cleanup(viper.Reset)
	env := apptest.New(t)
	tokens, err := auth.NewTokens("cli-secret")
	require.NoError(t, err)
	env.App.Tokens = tokens

	ts := httptest.NewServer(server.New(env.App).Handler())
	t.Cleanup(ts.Close)
	env.Cloud.SetBaseURL(ts.URL + server.ObjectsPrefix)

	data := []byte("a prebuilt toolchain")
	env.AddFile(t, data, types.Public, "us-east-1")

	work := t.TempDir()
	manifest := filepath.Join(work, "manifest.tt")
	require.NoError(t, client.Manifest{{
		Filename: "toolchain.tar.xz", Size: int64(len(data)), Algorithm: types.Algorithm, Digest: apptest.Digest(data),
	}}.Save(manifest))

	token, err := tokens.Issue("dev@example.com", []string{"tooltool/download/public"}, 0)
	require.NoError(t, err)

	dst := filepath.Join(work, "out")
	rootCmd.SetArgs([]string{"fetch", manifest, "--url", ts.URL, "--token", token, "-C", dst})
	require.NoError(t, rootCmd.Execute())

	got, err := os.ReadFile(filepath.Join(dst, "toolchain.tar.xz"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadCommand_InvalidVisibility(t *testing.T) {
	t.Cleanup(viper.Reset)
	p := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0644))

	rootCmd.SetArgs([]string{"upload", p, "-m", "msg", "--url", "http://127.0.0.1:1", "--visibility", "secret"})
	assert.ErrorContains(t, rootCmd.Execute(), "invalid visibility")
}
