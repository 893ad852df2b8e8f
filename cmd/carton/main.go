// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Command carton expands a declarative package specification into a
// content-addressed staging layout, then optionally pushes the result
// to a remote registry and announces it to a deployment registrar.
//
// Usage:
//
//	carton [flags] <spec-file-or-directory>
//
// The spec argument names a carton.toml file or a directory
// containing one. The action flag selects how far the run goes:
// "prepare" stages into --dir and stops, "push" also uploads to the
// registry, and "all" (the default) additionally registers the
// package with the deployment service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/carton-foundation/carton/lib/assemble"
	"github.com/carton-foundation/carton/lib/config"
	"github.com/carton-foundation/carton/lib/contenthash"
	"github.com/carton-foundation/carton/lib/parcel"
	"github.com/carton-foundation/carton/lib/registry"
	"github.com/carton-foundation/carton/lib/spec"
	"github.com/carton-foundation/carton/lib/staging"
)

// Actions selectable with --action.
const (
	actionAll     = "all"
	actionPush    = "push"
	actionPrepare = "prepare"
)

// Output modes selectable with --output.
const (
	outputID      = "id"
	outputMessage = "message"
	outputNone    = "none"
)

// options holds the parsed command line.
type options struct {
	specPath           string
	stagingDir         string
	versioning         string
	output             string
	action             string
	serverURL          string
	deploymentURL      string
	deploymentUsername string
	deploymentPassword string
	insecure           bool
	configPath         string
	verbose            bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, opts, logger)
}

// parseArgs parses flags and the positional spec path, applying
// environment-variable defaults for connection settings.
func parseArgs(args []string) (*options, error) {
	opts := &options{}
	flags := pflag.NewFlagSet("carton", pflag.ContinueOnError)
	flags.StringVarP(&opts.stagingDir, "dir", "d", "", "staging directory (required with --action prepare, otherwise a fresh temp directory)")
	flags.StringVarP(&opts.versioning, "invoice-version", "v", "dev", "how to version the generated manifest (dev or production)")
	flags.StringVarP(&opts.output, "output", "o", "message", "what to print on success (id, message, or none)")
	flags.StringVarP(&opts.action, "action", "a", "all", "what to do with the staged package (all, push, or prepare)")
	flags.StringVarP(&opts.serverURL, "server", "s", "", "registry base URL (env CARTON_REGISTRY_URL)")
	flags.StringVar(&opts.deploymentURL, "deployment-url", "", "deployment registrar base URL (env CARTON_DEPLOYMENT_URL)")
	flags.StringVar(&opts.deploymentUsername, "deployment-username", "", "deployment registrar username (env CARTON_DEPLOYMENT_USERNAME)")
	flags.StringVar(&opts.deploymentPassword, "deployment-password", "", "deployment registrar password (env CARTON_DEPLOYMENT_PASSWORD)")
	flags.BoolVarP(&opts.insecure, "insecure", "k", false, "ignore server certificate errors")
	flags.StringVar(&opts.configPath, "config", "", "client config file (env "+config.EnvVar+")")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	positional := flags.Args()
	if len(positional) != 1 {
		return nil, fmt.Errorf("exactly one package spec path is required")
	}
	opts.specPath = positional[0]

	if opts.serverURL == "" {
		opts.serverURL = os.Getenv("CARTON_REGISTRY_URL")
	}
	if opts.deploymentURL == "" {
		opts.deploymentURL = os.Getenv("CARTON_DEPLOYMENT_URL")
	}
	if opts.deploymentUsername == "" {
		opts.deploymentUsername = os.Getenv("CARTON_DEPLOYMENT_USERNAME")
	}
	if opts.deploymentPassword == "" {
		opts.deploymentPassword = os.Getenv("CARTON_DEPLOYMENT_PASSWORD")
	}

	switch opts.action {
	case actionAll, actionPush, actionPrepare:
	default:
		return nil, fmt.Errorf("unknown action %q: want %s, %s, or %s", opts.action, actionAll, actionPush, actionPrepare)
	}
	switch opts.output {
	case outputID, outputMessage, outputNone:
	default:
		return nil, fmt.Errorf("unknown output mode %q: want %s, %s, or %s", opts.output, outputID, outputMessage, outputNone)
	}
	if opts.action == actionPrepare && opts.stagingDir == "" {
		return nil, fmt.Errorf("--dir is required with --action %s", actionPrepare)
	}
	return opts, nil
}

// execute runs the expand / stage / push / register pipeline selected
// by the options.
func execute(ctx context.Context, opts *options, logger *slog.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	serverURL := opts.serverURL
	if serverURL == "" {
		serverURL = cfg.Registry.URL
	}
	insecure := opts.insecure || cfg.Registry.Insecure
	deployment := cfg.Deployment
	if opts.deploymentURL != "" {
		deployment.URL = opts.deploymentURL
	}
	if opts.deploymentUsername != "" {
		deployment.Username = opts.deploymentUsername
	}
	if opts.deploymentPassword != "" {
		deployment.Password = opts.deploymentPassword
	}

	policy, err := assemble.ParseVersioningPolicy(opts.versioning)
	if err != nil {
		return err
	}
	if opts.action != actionPrepare && serverURL == "" {
		return fmt.Errorf("--server is required with --action %s", opts.action)
	}
	if opts.action == actionAll && deployment.URL == "" {
		return fmt.Errorf("--deployment-url is required with --action %s", actionAll)
	}

	packageSpec, baseDir, err := spec.Load(opts.specPath)
	if err != nil {
		return err
	}

	stagingDir := opts.stagingDir
	if stagingDir == "" {
		stagingDir, err = staging.DefaultDir()
		if err != nil {
			return err
		}
	}

	var client *registry.Client
	if serverURL != "" {
		client = registry.NewClient(serverURL, insecure, logger)
	}
	external, err := prefetch(ctx, packageSpec, client, logger)
	if err != nil {
		return err
	}

	cache := contenthash.LoadCache(staging.CachePath(stagingDir))
	result, err := assemble.Expand(ctx, packageSpec, &assemble.Context{
		BaseDir:  baseDir,
		Policy:   policy,
		External: external,
		Cache:    cache,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := staging.Write(ctx, result.Manifest, result.Sources, stagingDir, logger); err != nil {
		return err
	}
	if err := cache.Save(staging.CachePath(stagingDir)); err != nil {
		logger.Warn("hash cache not saved", "error", err)
	}

	identity := result.Manifest.Identity()
	if opts.action != actionPrepare {
		if err := client.PushStaged(ctx, stagingDir); err != nil {
			return err
		}
	}
	if opts.action == actionAll {
		registrar := registry.NewRegistrar(deployment.URL, deployment.Username, deployment.Password, insecure, logger)
		if err := registrar.RegisterPackage(ctx, identity); err != nil {
			return err
		}
	}

	printResult(opts, identity, stagingDir)
	return nil
}

// prefetch fetches every external package the spec references into
// the user cache. Returns the identity-keyed map the assembler
// consumes. A spec with no external references needs no registry.
func prefetch(ctx context.Context, packageSpec *spec.PackageSpec, client *registry.Client, logger *slog.Logger) (map[string]*assemble.ExternalPackage, error) {
	refs := packageSpec.ExternalReferences()
	if len(refs) == 0 {
		return nil, nil
	}
	if client == nil {
		return nil, fmt.Errorf("spec references external packages but no registry is configured (--server)")
	}

	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("locating user cache directory: %w", err)
	}
	cacheRoot = filepath.Join(cacheRoot, "carton")

	external := make(map[string]*assemble.ExternalPackage, len(refs))
	for _, id := range refs {
		manifest, parcelDir, err := client.FetchPackage(ctx, id, cacheRoot)
		if err != nil {
			return nil, err
		}
		external[id.String()] = &assemble.ExternalPackage{Manifest: manifest, ParcelDir: parcelDir}
		logger.Debug("prefetched external package", "identity", id.String())
	}
	return external, nil
}

// printResult writes the success output selected by --output to
// stdout.
func printResult(opts *options, identity parcel.Identity, stagingDir string) {
	switch opts.output {
	case outputID:
		fmt.Println(identity)
	case outputMessage:
		switch opts.action {
		case actionPrepare:
			fmt.Printf("package %s staged at %s\n", identity, stagingDir)
		case actionPush:
			fmt.Printf("package %s pushed to registry\n", identity)
		default:
			fmt.Printf("package %s pushed and registered for deployment\n", identity)
		}
	}
}
