// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carton-foundation/carton/lib/parcel"
)

// RegistrationError reports a failed deployment registration.
type RegistrationError struct {
	Identity parcel.Identity
	Detail   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering package %s: %s", e.Identity, e.Detail)
}

// Registrar notifies a deployment service that a new package has been
// pushed and is ready to deploy.
type Registrar struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRegistrar returns a registrar client with basic-auth
// credentials.
func NewRegistrar(baseURL, username, password string, insecure bool, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Registrar{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Minute,
		},
		logger: logger,
	}
}

// registrationBody is the JSON payload of a registration call.
type registrationBody struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RegisterPackage informs the deployment registrar of a newly pushed
// package identity.
func (r *Registrar) RegisterPackage(ctx context.Context, id parcel.Identity) error {
	body, err := json.Marshal(registrationBody{Name: id.Name, Version: id.Version})
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/packages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.username, r.password)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &RegistrationError{Identity: id, Detail: err.Error()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return &RegistrationError{Identity: id, Detail: "registrar returned " + resp.Status}
	}

	r.logger.Info("package registered", "identity", id.String())
	return nil
}
