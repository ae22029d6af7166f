// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlplane wires the Maestro control plane together and runs
// the HTTP/WebSocket API server.
package controlplane

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"maestro/platform/controlplane/analytics"
	"maestro/platform/controlplane/approval"
	"maestro/platform/controlplane/audit"
	"maestro/platform/controlplane/blobstore"
	"maestro/platform/controlplane/capacity"
	"maestro/platform/controlplane/cluster"
	"maestro/platform/controlplane/compliance"
	"maestro/platform/controlplane/config"
	"maestro/platform/controlplane/configchange"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/metrics"
	"maestro/platform/controlplane/org"
	"maestro/platform/controlplane/rbac"
	"maestro/platform/controlplane/routine"
	"maestro/platform/controlplane/runindex"
	"maestro/platform/controlplane/secrets"
	"maestro/platform/controlplane/server"
	"maestro/platform/controlplane/template"
	"maestro/platform/controlplane/tenant"
	"maestro/platform/controlplane/workflow"
	"maestro/platform/shared/logger"
)

// Run starts the control plane and blocks until SIGINT or SIGTERM.
func Run() {
	log := logger.New("controlplane")

	configPath := flag.String("config", "", "path to maestro.toml")
	dataDir := flag.String("data-dir", "", "override storage data directory")
	host := flag.String("host", "", "override listen host")
	port := flag.Int("port", 0, "override listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.ErrorWithErr("", "", "failed to load configuration", err, nil)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	svc, hub, shutdown, err := buildServices(&cfg, log)
	if err != nil {
		log.ErrorWithErr("", "", "failed to initialize services", err, nil)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.New(svc, hub, cfg.Auth.Required).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx, 10*time.Second)
	if svc.Elector != nil {
		go svc.Elector.Run(ctx)
	}

	go func() {
		log.Info("", "", "control plane listening", map[string]interface{}{
			"addr":     cfg.ListenAddr(),
			"data_dir": cfg.Storage.DataDir,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorWithErr("", "", "server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("", "", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("", "", "server shutdown failed", err, nil)
	}
	shutdown()
}

// buildServices constructs the full service graph over the data directory.
func buildServices(cfg *config.Config, log *logger.Logger) (server.Services, *server.Hub, func(), error) {
	dataDir := cfg.Storage.DataDir

	blobs, err := blobstore.New(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return server.Services{}, nil, nil, fmt.Errorf("opening blob store: %w", err)
	}
	events, err := eventlog.New(filepath.Join(dataDir, "events"))
	if err != nil {
		return server.Services{}, nil, nil, fmt.Errorf("opening event log: %w", err)
	}
	index, err := runindex.Open(filepath.Join(dataDir, "runs.json"))
	if err != nil {
		return server.Services{}, nil, nil, fmt.Errorf("opening run index: %w", err)
	}
	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.log"))
	if err != nil {
		return server.Services{}, nil, nil, fmt.Errorf("opening audit log: %w", err)
	}

	cipher, err := buildCipher(log)
	if err != nil {
		return server.Services{}, nil, nil, err
	}

	registry := metrics.NewRegistry()
	collector := analytics.NewService()
	tenants := tenant.NewService(tenant.NewStorage(filepath.Join(dataDir, "tenants")))
	secretStore := secrets.NewService(cipher)
	rbacSvc := rbac.NewService()
	approvals := approval.NewEngine()
	changes := configchange.NewGate(approvals, func(change *configchange.Change) error {
		log.Info("", "", "config change applied", map[string]interface{}{
			"change_id": change.ID,
			"target":    change.Target,
		})
		return nil
	})
	changes.SetEventLog(events)

	cache := buildCache(cfg, log)
	provider := capacity.NewHTTPProvider(
		envOr("LLM_ENDPOINT", "https://api.openai.com"),
		os.Getenv("LLM_API_KEY"),
	)
	broker := capacity.NewBroker(provider, capacity.NewQueue(0), cache, registry)
	broker.SetEventLog(events)

	manager := cluster.NewManager(cfg.HeartbeatTimeout())
	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	var elector *cluster.LeaderElector
	if nodeID != "" {
		if _, err := manager.Register(nodeID, cfg.ListenAddr()); err != nil {
			return server.Services{}, nil, nil, fmt.Errorf("registering node: %w", err)
		}
		elector = cluster.NewLeaderElector(cluster.NewDistributedLock(), manager, nodeID, cfg.LeaderLease())
	}

	hub := server.NewHub(registry, manager)

	runner := &workflow.AgentRunner{
		Blobs:    blobs,
		Agent:    &brokerAgent{broker: broker},
		Tools:    &localTools{},
		Scripts:  &localScripts{},
		Approver: &approvalGate{engine: approvals},
		Events:   events,
	}
	steps := workflow.NewStepExecutor(events, runner)
	executor := workflow.NewExecutor(index, events, steps, collector, registry, hub)
	routines := routine.NewScheduler(executor)

	svc := server.Services{
		Blobs:      blobs,
		Events:     events,
		Index:      index,
		Audit:      auditLog,
		Metrics:    registry,
		Tenants:    tenants,
		Secrets:    secretStore,
		Cluster:    manager,
		Elector:    elector,
		RBAC:       rbacSvc,
		Approvals:  approvals,
		Changes:    changes,
		Broker:     broker,
		Executor:   executor,
		Routines:   routines,
		Analytics:  collector,
		Compliance: compliance.NewChecker(auditLog),
		Templates:  template.NewService(),
		Orgs:       org.NewService(),
	}

	shutdown := func() {
		routines.Shutdown()
		if err := events.Flush(); err != nil {
			log.ErrorWithErr("", "", "event log flush failed", err, nil)
		}
		if err := auditLog.Close(); err != nil {
			log.ErrorWithErr("", "", "audit log close failed", err, nil)
		}
	}
	return svc, hub, shutdown, nil
}

// buildCipher loads the secrets key from MAESTRO_SECRETS_KEY (hex, 32
// bytes) or generates an ephemeral one.
func buildCipher(log *logger.Logger) (secrets.Cipher, error) {
	if encoded := os.Getenv("MAESTRO_SECRETS_KEY"); encoded != "" {
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding MAESTRO_SECRETS_KEY: %w", err)
		}
		return secrets.NewAESGCMCipher(key)
	}
	key, err := secrets.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secrets key: %w", err)
	}
	log.Warn("", "", "MAESTRO_SECRETS_KEY not set, secrets will not survive restarts", nil)
	return secrets.NewAESGCMCipher(key)
}

func buildCache(cfg *config.Config, log *logger.Logger) capacity.ResponseCache {
	if cfg.Cache.RedisAddr == "" {
		return capacity.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn("", "", "redis unreachable, falling back to in-memory cache", map[string]interface{}{
			"addr":  cfg.Cache.RedisAddr,
			"error": err.Error(),
		})
		return capacity.NewMemoryCache()
	}
	return capacity.NewRedisCache(client, cfg.CacheTTL())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// brokerAgent routes agent-task prompts through the capacity broker.
type brokerAgent struct {
	broker *capacity.Broker
}

func (a *brokerAgent) Call(ctx context.Context, runID, stepID, role, prompt string, maxTokens int64) (string, int64, error) {
	result, err := a.broker.ExecuteRequest(ctx, capacity.Request{
		RunID:     runID,
		StepID:    stepID,
		Role:      role,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", 0, err
	}
	return result.Content, result.InputTokens + result.OutputTokens, nil
}

// localTools is the built-in tool surface. Tools beyond the built-ins
// fail the step rather than silently no-op.
type localTools struct{}

func (localTools) CallTool(ctx context.Context, runID, stepID, tool string) (string, error) {
	switch tool {
	case "noop":
		return "", nil
	case "timestamp":
		return time.Now().UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("unknown tool %q", tool)
	}
}

// localScripts executes script actions on the host.
type localScripts struct{}

func (localScripts) RunScript(ctx context.Context, command string, args []string) (string, error) {
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("script %s failed: %w", command, err)
	}
	return string(out), nil
}

// approvalGate backs manual-approval steps with an ad-hoc board and polls
// the engine until the request resolves.
type approvalGate struct {
	engine *approval.Engine
}

func (g *approvalGate) Await(ctx context.Context, runID, stepID string, approvers []string) (bool, error) {
	boardID := fmt.Sprintf("run:%s:%s", runID, stepID)
	if _, err := g.engine.CreateBoard(boardID, boardID, approvers, approval.Quorum{Kind: approval.QuorumUnanimous}); err != nil && !errors.Is(err, approval.ErrBoardExists) {
		return false, err
	}
	req, err := g.engine.Request(boardID, "step "+stepID+" of run "+runID, "", "")
	if err != nil {
		return false, err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			current, err := g.engine.Get(req.ID)
			if err != nil {
				return false, err
			}
			switch current.Status {
			case approval.StatusApproved:
				return true, nil
			case approval.StatusDenied:
				return false, nil
			}
		}
	}
}
