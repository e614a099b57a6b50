// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Command branchctl-controller runs the control loop for one environment
// fleet: it periodically drives each environment's pipeline, refreshes
// branch snapshots, and serves a websocket federation endpoint plus a
// health check. Snapshots and operator edits arriving from a federation
// peer (over that endpoint or an outbound peer connection) are folded into
// the local mirror; the local snapshot is not sent to the peer or to
// connected websocket clients.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/branchctl/branchctl/internal/cmdutil"
	"github.com/branchctl/branchctl/internal/config"
	"github.com/branchctl/branchctl/internal/controlloop"
	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/federation"
	"github.com/branchctl/branchctl/internal/githook"
	"github.com/branchctl/branchctl/internal/logging"
	"github.com/branchctl/branchctl/internal/merge"
	"github.com/branchctl/branchctl/internal/orchestrator"
	"github.com/branchctl/branchctl/internal/pipeline/engine"
	"github.com/branchctl/branchctl/internal/pipeline/step"
	"github.com/branchctl/branchctl/internal/scm"
	serverpkg "github.com/branchctl/branchctl/internal/server"
	loggermw "github.com/branchctl/branchctl/internal/server/middleware/logger"
	"github.com/branchctl/branchctl/internal/steps"
	"github.com/branchctl/branchctl/pkg/hash"
	mw "github.com/branchctl/branchctl/pkg/middleware"
	"github.com/branchctl/branchctl/pkg/metrics"
)

const envPrefix = "BRANCHCTL"

func main() {
	flags := pflag.NewFlagSet("branchctl-controller", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to the YAML configuration file")
	addr := flags.String("addr", ":8443", "address for the health/federation HTTP server")
	logLevel := flags.String("log-level", "info", "log level (debug, info, warn, error)")
	webhookSecret := flags.String("github-webhook-secret", "", "shared secret for the optional GitHub push webhook")
	_ = flags.Parse(os.Args[1:])

	logger := logging.New(logging.Config{Level: *logLevel, Format: "json"})
	ctx := logging.NewContext(context.Background(), logger)

	loader := config.NewLoader(envPrefix, config.WithLogger(logger))
	defaults := &config.AppConfig{
		StackName:   "branchctl",
		ComposePath: "docker-compose.yml",
		WorkdirBase: os.TempDir(),
		CredPrefix:  "GIT",
	}
	if err := loader.LoadWithDefaults(defaults, *configPath); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var cfg config.AppConfig
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	envs, err := cfg.FilteredEnvironments()
	if err != nil {
		logger.Error("failed to apply environment filter", "error", err)
		os.Exit(1)
	}
	envPtrs := make([]*domain.Environment, len(envs))
	for i := range envs {
		envPtrs[i] = &envs[i]
	}

	creds := config.CredentialsFor(cfg.CredPrefix)
	ops := &orchestrator.Ops{StackNamespaceLabel: "com.docker.stack.namespace"}
	mirror := federation.NewMirror()
	author := merge.Author{Name: "branchctl", Email: "branchctl@localhost"}

	loop := controlloop.New(envPtrs, buildPipeline(cfg, ops, creds, author), publish(mirror), refreshBranches(cfg, creds, mirror))
	if cfg.PollInterval != "" {
		if d, err := cmdutil.ParseDuration(cfg.PollInterval); err != nil {
			logger.Warn("invalid poll_interval, keeping default", "value", cfg.PollInterval, "error", err)
		} else {
			loop.SetPollInterval(d)
		}
	}

	if cfg.PeerURL != "" {
		peer := federation.NewPeer(cfg.PeerURL, func(conn *federation.Conn, env federation.Envelope) {
			handleFederationEnvelope(loop, mirror, env)
		})
		go peer.Run(ctx)
	}

	mux := http.NewServeMux()
	fedServer := federation.NewServer(func(conn *federation.Conn, env federation.Envelope) {
		handleFederationEnvelope(loop, mirror, env)
	})
	rb := mw.NewRouteBuilder(mux).With(loggermw.Middleware(logger))
	rb.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	rb.HandleFunc("/ws/federation", fedServer.Upgrade)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	rb.Handle("/metrics", promhttp.Handler())

	if *webhookSecret != "" {
		receiver := githook.NewReceiver(*webhookSecret, func(evt githook.PushEvent) {
			loop.WakeEarly()
		})
		rb.Handle("/webhooks/github", receiver)
	}

	srv := serverpkg.New(serverpkg.Config{
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, mux, logger)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go loop.Run(runCtx)

	if err := srv.Run(runCtx); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// buildPipeline assembles the declared-order step graph per §4.1/§4.2 for
// one environment: SourceClone, StackInspect and UnmergeResolve run first so
// the recovery hook can adopt branches before MergeCheckout reads them;
// MergeCheckout, ImageBuild and StackDeploy then drive the actual build and
// deploy.
func buildPipeline(cfg config.AppConfig, ops *orchestrator.Ops, creds scm.Credentials, author merge.Author) controlloop.PipelineBuilder {
	return func(env *domain.Environment) *engine.Pipeline {
		clone := steps.NewSourceClone(env, cfg.WorkdirBase, env.BranchPrefix, creds)
		stackName := cfg.StackName + "-" + env.ID
		inspect := steps.NewStackInspect(ops, stackName)
		unmergeResolve := steps.NewUnmergeResolve(clone, inspect)
		mergeCheckout := steps.NewMergeCheckout(env, clone, author, !env.Dry)
		imageBuild := steps.NewImageBuild(clone, ops, cfg.ComposePath, map[string]string{}, !env.Dry, "", "", "")
		versionLog := steps.NewSimpleLog("ResolvedVersion", func(ctx context.Context) (string, error) {
			r, err := mergeCheckout.Value(ctx)
			if err != nil {
				return "", err
			}
			return r.Version, nil
		})
		stackDeploy := steps.NewStackDeploy(env, clone, inspect, ops, cfg.ComposePath, stackName, func(ctx context.Context) (string, error) {
			r, err := mergeCheckout.Value(ctx)
			if err != nil {
				return "", err
			}
			return r.Version, nil
		}, map[string]string{})

		return &engine.Pipeline{
			Env: env,
			Steps: []step.Step{
				clone,
				inspect,
				unmergeResolve,
				mergeCheckout,
				versionLog,
				imageBuild,
				stackDeploy,
			},
		}
	}
}

// refreshBranches updates each environment's branch snapshot after a pass,
// folded into this driver under its single exclusive-lock contract, and
// feeds the result into the federation mirror's local branches view.
func refreshBranches(cfg config.AppConfig, creds scm.Credentials, mirror *federation.Mirror) controlloop.BranchRefresher {
	return func(ctx context.Context, envs []*domain.Environment) {
		snap, _ := mirror.Merged()
		if snap.Branches == nil {
			snap.Branches = federation.BranchesSnapshot{}
		}
		for _, env := range envs {
			path := scm.WorkdirPath(cfg.WorkdirBase, env.ID, env.Repo, hash.ShortSHA1)
			repo, err := scm.Open(ctx, env.Repo, path, creds)
			if err != nil {
				continue
			}
			branches, err := repo.EnumerateBranches(env.BranchPrefix)
			if err != nil {
				continue
			}
			snap.Branches[env.ID] = federation.BuildBranchesEntry(branches)
		}
		mirror.SetLocal(snap)
	}
}

func publish(mirror *federation.Mirror) controlloop.PublishFunc {
	return func(env *domain.Environment, results []engine.StepStatus) {
		entry := federation.BuildEnvironmentEntry(env, results)
		snap, _ := mirror.Merged()
		if snap.Environments == nil {
			snap.Environments = federation.EnvironmentsSnapshot{}
		}
		snap.Environments[env.ID] = entry
		mirror.SetLocal(snap)
	}
}

func handleFederationEnvelope(loop *controlloop.Loop, mirror *federation.Mirror, env federation.Envelope) {
	switch env.Channel {
	case federation.ChannelUpdate:
		var upd federation.OperatorUpdate
		if err := json.Unmarshal(env.Payload, &upd); err == nil {
			loop.ApplyOperatorEdit(upd.ID, upd.Branches)
		}
	case federation.ChannelBranches, federation.ChannelEnvironments:
		var snap federation.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err == nil {
			mirror.ReceiveRemote(snap)
		}
	}
}
