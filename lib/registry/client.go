// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the network collaborators of an
// expansion run: the remote package store (fetch external manifests
// and their parcels, push a completed staging layout) and the
// deployment registrar (announce a newly pushed package).
//
// The wire surface is deliberately small: manifests travel as TOML
// documents, parcel bytes travel raw (download) or zstd-compressed
// (upload), and every parcel transfer is verified against its content
// hash.
package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/carton-foundation/carton/lib/contenthash"
	"github.com/carton-foundation/carton/lib/parcel"
	"github.com/carton-foundation/carton/lib/staging"
)

// NotFoundError reports that the registry has no package with the
// requested identity.
type NotFoundError struct {
	Identity parcel.Identity
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %s not found in registry", e.Identity)
}

// PushError reports a failed upload of a staged package.
type PushError struct {
	Identity parcel.Identity
	Detail   string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing package %s: %s", e.Identity, e.Detail)
}

// Client talks to a remote package registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a registry client for the given base URL. When
// insecure is set, TLS certificate verification is disabled (the
// --insecure development flag).
func NewClient(baseURL string, insecure bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
		logger: logger,
	}
}

// manifestURL is the registry path of a package's manifest document.
func (c *Client) manifestURL(id parcel.Identity) string {
	return c.baseURL + "/api/invoices/" + url.PathEscape(id.Name) + "/" + url.PathEscape(id.Version)
}

// parcelURL is the registry path of a parcel's raw bytes.
func (c *Client) parcelURL(sha256 string) string {
	return c.baseURL + "/api/parcels/" + sha256
}

// FetchManifest resolves a previously published package's manifest by
// exact identity. A 404 from the registry returns [*NotFoundError].
func (c *Client) FetchManifest(ctx context.Context, id parcel.Identity) (*parcel.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.manifestURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &NotFoundError{Identity: id}
	default:
		return nil, fmt.Errorf("fetching manifest for %s: registry returned %s", id, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %s: %w", id, err)
	}
	m, err := parcel.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("manifest for %s: %w", id, err)
	}
	if got := m.Identity(); got != id {
		return nil, fmt.Errorf("registry returned manifest %s when asked for %s", got, id)
	}
	return m, nil
}

// FetchPackage fetches a package's manifest and downloads its parcels
// into a content-addressed directory under cacheRoot, verifying every
// parcel against its declared hash. Parcels already present in the
// cache are not re-downloaded. Returns the manifest and the directory
// holding "<sha256>.dat" parcel files.
func (c *Client) FetchPackage(ctx context.Context, id parcel.Identity, cacheRoot string) (*parcel.Manifest, string, error) {
	m, err := c.FetchManifest(ctx, id)
	if err != nil {
		return nil, "", err
	}

	parcelDir := filepath.Join(cacheRoot, "parcels")
	if err := os.MkdirAll(parcelDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating parcel cache: %w", err)
	}
	for _, p := range m.Parcels {
		if err := c.fetchParcel(ctx, p.Label.SHA256, parcelDir); err != nil {
			return nil, "", err
		}
	}
	c.logger.Debug("fetched external package", "identity", id.String(), "parcels", len(m.Parcels))
	return m, parcelDir, nil
}

// fetchParcel downloads one parcel into dir unless it is already
// cached. Downloaded bytes are hashed before the file is renamed into
// its content-addressed name, so a corrupt transfer never becomes a
// trusted cache entry.
func (c *Client) fetchParcel(ctx context.Context, sha256 string, dir string) error {
	finalPath := filepath.Join(dir, sha256+".dat")
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.parcelURL(sha256), nil)
	if err != nil {
		return fmt.Errorf("building parcel request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching parcel %s: %w", sha256, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching parcel %s: registry returned %s", sha256, resp.Status)
	}

	tmpFile, err := os.CreateTemp(dir, "fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp parcel file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		return fmt.Errorf("downloading parcel %s: %w", sha256, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp parcel file: %w", err)
	}

	content, err := contenthash.HashFile(tmpPath)
	if err != nil {
		return fmt.Errorf("verifying parcel %s: %w", sha256, err)
	}
	if content.Digest.String() != sha256 {
		return fmt.Errorf("parcel %s failed verification: downloaded bytes hash to %s", sha256, content.Digest)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("caching parcel %s: %w", sha256, err)
	}
	success = true
	return nil
}

// PushStaged uploads a completed staging layout: the manifest
// document first, then every parcel the registry does not already
// hold. Parcel bodies are zstd-compressed on the wire.
func (c *Client) PushStaged(ctx context.Context, stagingDir string) error {
	m, err := staging.ReadManifest(stagingDir)
	if err != nil {
		return err
	}
	id := m.Identity()

	data, err := m.Marshal()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/invoices", strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/toml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &PushError{Identity: id, Detail: err.Error()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return &PushError{Identity: id, Detail: "registry returned " + resp.Status + " for manifest"}
	}

	var uploaded, skipped int
	for _, p := range m.Parcels {
		sha := p.Label.SHA256
		has, err := c.hasParcel(ctx, sha)
		if err != nil {
			return &PushError{Identity: id, Detail: err.Error()}
		}
		if has {
			skipped++
			continue
		}
		if err := c.uploadParcel(ctx, staging.ParcelPath(stagingDir, sha), sha, p.Label.Size); err != nil {
			return &PushError{Identity: id, Detail: err.Error()}
		}
		uploaded++
	}
	c.logger.Info("push complete", "identity", id.String(), "uploaded", uploaded, "skipped", skipped)
	return nil
}

// hasParcel asks the registry whether it already stores a parcel.
func (c *Client) hasParcel(ctx context.Context, sha256 string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.parcelURL(sha256), nil)
	if err != nil {
		return false, fmt.Errorf("building parcel check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking parcel %s: %w", sha256, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking parcel %s: registry returned %s", sha256, resp.Status)
	}
}

// uploadParcel streams one parcel to the registry, zstd-compressing
// the body on the fly. The uncompressed size travels in a header so
// the registry can verify after decompression.
func (c *Client) uploadParcel(ctx context.Context, path, sha256 string, size int64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening staged parcel %s: %w", sha256, err)
	}
	defer file.Close()

	pipeReader, pipeWriter := io.Pipe()
	go func() {
		encoder, err := zstd.NewWriter(pipeWriter)
		if err != nil {
			pipeWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(encoder, file); err != nil {
			encoder.Close()
			pipeWriter.CloseWithError(err)
			return
		}
		pipeWriter.CloseWithError(encoder.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.parcelURL(sha256), pipeReader)
	if err != nil {
		return fmt.Errorf("building parcel upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("X-Parcel-Size", fmt.Sprintf("%d", size))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading parcel %s: %w", sha256, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("uploading parcel %s: registry returned %s", sha256, resp.Status)
	}
	return nil
}
