// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
)

func TestParseArgsDefaults(t *testing.T) {
	opts, err := parseArgs([]string{"./carton.toml"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.specPath != "./carton.toml" {
		t.Errorf("spec path = %q", opts.specPath)
	}
	if opts.action != actionAll || opts.versioning != "dev" || opts.output != outputMessage {
		t.Errorf("defaults: %+v", opts)
	}
}

func TestParseArgsFlags(t *testing.T) {
	opts, err := parseArgs([]string{
		"-a", "prepare",
		"-d", "/tmp/stage",
		"-v", "production",
		"-o", "id",
		"-k",
		"spec/",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.action != actionPrepare || opts.stagingDir != "/tmp/stage" {
		t.Errorf("action/dir: %+v", opts)
	}
	if opts.versioning != "production" || opts.output != outputID || !opts.insecure {
		t.Errorf("flags: %+v", opts)
	}
}

func TestParseArgsEnvironmentFallback(t *testing.T) {
	t.Setenv("CARTON_REGISTRY_URL", "https://registry.example.com")
	t.Setenv("CARTON_DEPLOYMENT_URL", "https://deploy.example.com")
	t.Setenv("CARTON_DEPLOYMENT_USERNAME", "deployer")
	t.Setenv("CARTON_DEPLOYMENT_PASSWORD", "hunter2")

	opts, err := parseArgs([]string{"carton.toml"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.serverURL != "https://registry.example.com" {
		t.Errorf("server URL = %q", opts.serverURL)
	}
	if opts.deploymentUsername != "deployer" || opts.deploymentPassword != "hunter2" {
		t.Errorf("deployment credentials: %+v", opts)
	}
}

func TestParseArgsFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("CARTON_REGISTRY_URL", "https://env.example.com")
	opts, err := parseArgs([]string{"-s", "https://flag.example.com", "carton.toml"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.serverURL != "https://flag.example.com" {
		t.Errorf("server URL = %q", opts.serverURL)
	}
}

func TestParseArgsRejectsBadInput(t *testing.T) {
	cases := [][]string{
		{},                                // no spec path
		{"a.toml", "b.toml"},              // two spec paths
		{"-a", "destroy", "carton.toml"},  // unknown action
		{"-o", "confetti", "carton.toml"}, // unknown output mode
		{"-a", "prepare", "carton.toml"},  // prepare without --dir
	}
	for _, args := range cases {
		if _, err := parseArgs(args); err == nil {
			t.Errorf("parseArgs(%v) succeeded, want error", args)
		}
	}
}
