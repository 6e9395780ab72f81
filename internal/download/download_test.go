// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package download

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const content = "39, State-gov, 77516, Bachelors, 13, Never-married\n"

// newServer serves content at /adult.data, and counts the requests.
func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/adult.data" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestFile(t *testing.T) {
	server, _ := newServer(t)
	filePath := filepath.Join(t.TempDir(), "sub", "adult.data")
	size, err := File(server.URL+"/adult.data", filePath, false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
	assert.NoFileExists(t, filePath+".downloading")

	missingPath := filepath.Join(t.TempDir(), "missing")
	_, err = File(server.URL+"/missing", missingPath, false)
	require.ErrorContains(t, err, "404")
	assert.NoFileExists(t, missingPath)
}

func TestIfMissing(t *testing.T) {
	server, requests := newServer(t)
	sum := sha256.Sum256([]byte(content))
	checksum := hex.EncodeToString(sum[:])
	filePath := filepath.Join(t.TempDir(), "adult.data")
	url := server.URL + "/adult.data"

	require.NoError(t, IfMissing(url, filePath, checksum))
	require.FileExists(t, filePath)
	require.EqualValues(t, 1, requests.Load())

	// Already present: only the checksum is verified.
	require.NoError(t, IfMissing(url, filePath, checksum))
	require.NoError(t, IfMissing(url, filePath, ""))
	require.EqualValues(t, 1, requests.Load())

	wrong := sha256.Sum256([]byte("something else"))
	require.Error(t, IfMissing(url, filePath, hex.EncodeToString(wrong[:])))
}
