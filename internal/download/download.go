// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package download fetches dataset files over HTTP, with a progress bar and a SHA-256 check.
package download

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// File downloads url into filePath, creating the directory if needed.
// The file is first written to a temporary name and only renamed when complete.
// If showProgressBar is set, it displays the progress on the terminal.
func File(url, filePath string, showProgressBar bool) (size int64, err error) {
	if err = os.MkdirAll(filepath.Dir(filePath), 0777); err != nil {
		return 0, errors.Wrapf(err, "failed to create directory for %q", filePath)
	}
	resp, err := http.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to download %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed to download %q: status %s", url, resp.Status)
	}

	tmpPath := filePath + ".downloading"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %q", tmpPath)
	}
	var w io.Writer = f
	if showProgressBar {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(filePath))
		w = io.MultiWriter(f, bar)
		defer func() { _ = bar.Close() }()
	}
	size, err = io.Copy(w, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "failed to write %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed to rename %q to %q", tmpPath, filePath)
	}
	return size, nil
}

// IfMissing downloads url into filePath if it doesn't exist yet. If checkHash is not empty, the file
// (downloaded or not) must match the SHA-256 hex digest.
func IfMissing(url, filePath, checkHash string) error {
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		klog.V(1).Infof("downloading %s to %s", url, filePath)
		if _, err := File(url, filePath, true); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}
