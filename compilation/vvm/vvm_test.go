package vvm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/vyperlens/cache"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/compilation/versions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newReleaseServer serves a release listing and binary downloads. rateLimited makes the listing fail.
func newReleaseServer(t *testing.T, rateLimited *bool, listings *int) *httptest.Server {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/repos/vyperlang/vyper/releases", func(w http.ResponseWriter, r *http.Request) {
		*listings++
		if *rateLimited {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "API rate limit exceeded for 127.0.0.1."}`))
			return
		}
		var releases []release
		for _, tag := range []string{"v0.3.10", "v0.4.0", "v0.4.1rc1", "not-a-version"} {
			releases = append(releases, release{
				TagName: tag,
				Assets: []asset{{
					Name:               fmt.Sprintf("vyper.%s+commit.abcdef%s", tag[1:], assetSuffix()),
					BrowserDownloadURL: server.URL + "/download/" + tag,
				}},
			})
		}
		releases = append(releases, release{TagName: "v0.2.1", Assets: []asset{{Name: "vyper.0.2.1.tar.gz"}}})
		require.NoError(t, json.NewEncoder(w).Encode(releases))
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#!/bin/sh\necho 0.4.0\n"))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestRegistryListsInstallsAndCaches covers listing, caching, installing and rate limiting.
func TestRegistryListsInstallsAndCaches(t *testing.T) {
	rateLimited := false
	listings := 0
	server := newReleaseServer(t, &rateLimited, &listings)

	store, err := cache.Open(t.TempDir(), "registry.db", "registry")
	require.NoError(t, err)
	defer store.Close()

	installDir := t.TempDir()
	registry := NewRegistry(installDir, store)
	registry.APIURL = server.URL
	registry.Client = server.Client()

	installable, err := registry.Installable(context.Background())
	require.NoError(t, err)
	formatted := make([]string, 0, len(installable))
	for _, v := range installable {
		formatted = append(formatted, pragma.FormatVersion(v))
	}
	assert.Equal(t, []string{"0.3.10", "0.4.0", "0.4.1rc1"}, formatted)

	// A second registry sharing the store reuses the cached listing.
	second := NewRegistry(installDir, store)
	second.APIURL = server.URL
	second.Client = server.Client()
	_, err = second.Installable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, listings)

	require.NoError(t, registry.Install(context.Background(), pragma.MustParseVersion("0.4.0")))
	installed, err := registry.Installed()
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "0.4.0", pragma.FormatVersion(installed[0]))

	binary, err := registry.BinaryPath(pragma.MustParseVersion("0.4.0"))
	require.NoError(t, err)
	info, err := os.Stat(binary)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100)
	_, err = registry.BinaryPath(pragma.MustParseVersion("0.3.10"))
	assert.Error(t, err)

	// Without a cache, a throttled listing reports the rate limit.
	rateLimited = true
	uncached := NewRegistry(installDir, nil)
	uncached.APIURL = server.URL
	uncached.Client = server.Client()
	_, err = uncached.Installable(context.Background())
	require.Error(t, err)
	assert.True(t, versions.IsRateLimited(err))
	assert.ErrorIs(t, err, versions.ErrRateLimited)
}

// TestInstalledIgnoresUnrelatedFiles verifies only vyper-<version> entries count as installs.
func TestInstalledIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vyper-0.3.9", "vyper-0.4.0rc6", "vyper-latest", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0755))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vyper-0.1.0"), 0755))

	installed, err := NewRegistry(dir, nil).Installed()
	require.NoError(t, err)
	require.Len(t, installed, 2)
	assert.Equal(t, "0.3.9", pragma.FormatVersion(installed[0]))
	assert.Equal(t, "0.4.0rc6", pragma.FormatVersion(installed[1]))

	missing, err := NewRegistry(filepath.Join(dir, "absent"), nil).Installed()
	require.NoError(t, err)
	assert.Empty(t, missing)
}

// TestParseStandardOutput covers structured diagnostics, warnings and raw failures.
func TestParseStandardOutput(t *testing.T) {
	t.Parallel()
	output := []byte(`{
		"errors": [
			{"type": "Warning", "severity": "warning", "message": "unused"},
			{
				"type": "UndeclaredDefinition", "component": "compiler", "severity": "error",
				"message": "'foo' has not been declared",
				"sourceLocation": {"file": "contracts/A.vy", "lineno": 4, "col_offset": 8}
			}
		]
	}`)
	_, err := ParseStandardOutput("0.3.10", output, nil, errors.New("exit status 1"))
	var compileErr *types.CompileError
	require.ErrorAs(t, err, &compileErr)
	require.Len(t, compileErr.Diagnostics, 1)
	assert.Equal(t, "vyper 0.3.10: contracts/A.vy:4:8: UndeclaredDefinition: 'foo' has not been declared", err.Error())

	document, err := ParseStandardOutput("0.4.0", []byte(`{"errors": [{"type": "Warning", "severity": "warning", "message": "x"}], "contracts": {}}`), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, string(document), "contracts")

	_, err = ParseStandardOutput("0.4.0", []byte("Traceback (most recent call last)"), []byte("vyper crashed"), errors.New("exit status 1"))
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "vyper 0.4.0: vyper crashed", err.Error())
}
