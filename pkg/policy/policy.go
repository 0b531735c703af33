// Package policy gates every public operation with a rule-based check. Rules
// are string identifiers like "metalease:offer:delete"; evaluation runs a
// rego ruleset over the request's target and credentials.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/rego"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
)

// allowQuery is the decision entrypoint in the ruleset.
const allowQuery = "data.metalease.authz.allow"

// Credentials identifies the caller.
type Credentials struct {
	ProjectID string   `json:"project_id"`
	Roles     []string `json:"roles"`
}

// IsAdmin reports whether the credentials carry the admin role.
func (c Credentials) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// Target carries the attributes of the record an operation acts on.
type Target map[string]any

// Config configures the authorizer.
type Config struct {
	// Enabled switches enforcement. When false every check passes.
	Enabled bool

	// Dir optionally holds *.rego modules layered over the builtin
	// ruleset.
	Dir string
}

// Authorizer evaluates authorization rules.
type Authorizer struct {
	cfg    Config
	logger *telemetry.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery

	watcher *fsnotify.Watcher
}

// BuiltinModule returns the default ruleset shipped with the service.
func BuiltinModule() string {
	return builtinModule
}

// NewAuthorizer compiles the ruleset and returns an authorizer.
func NewAuthorizer(ctx context.Context, cfg Config, logger *telemetry.Logger) (*Authorizer, error) {
	a := &Authorizer{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return a, nil
	}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload recompiles the ruleset: the modules in the policy directory when
// any exist, the builtin ruleset otherwise. Directory modules replace the
// builtin rather than merging with it, since rego unions rules within a
// package and a merged override could only ever widen access.
func (a *Authorizer) Reload(ctx context.Context) error {
	modules := []func(*rego.Rego){rego.Query(allowQuery)}

	var loaded int
	if a.cfg.Dir != "" {
		entries, err := os.ReadDir(a.cfg.Dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read policy directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
				continue
			}
			path := filepath.Join(a.cfg.Dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy module %s: %w", path, err)
			}
			modules = append(modules, rego.Module(entry.Name(), string(data)))
			loaded++
		}
	}
	if loaded == 0 {
		modules = append(modules, rego.Module("builtin.rego", builtinModule))
	}

	query, err := rego.New(modules...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy ruleset: %w", err)
	}

	a.mu.Lock()
	a.query = query
	a.mu.Unlock()

	if a.logger != nil {
		a.logger.Info("policy ruleset loaded")
	}
	return nil
}

// Authorize checks one rule. It returns nil when allowed and a forbidden
// error otherwise.
func (a *Authorizer) Authorize(ctx context.Context, rule string, target Target, creds Credentials) error {
	if !a.cfg.Enabled {
		return nil
	}

	a.mu.RLock()
	query := a.query
	a.mu.RUnlock()

	input := map[string]any{
		"rule":        rule,
		"target":      map[string]any(target),
		"credentials": map[string]any{"project_id": creds.ProjectID, "roles": creds.Roles},
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return engine.NewInternal("policy evaluation failed", err)
	}

	if results.Allowed() {
		return nil
	}
	if a.logger != nil {
		a.logger.WithProject(creds.ProjectID).
			WithField("rule", rule).
			Debug("authorization denied")
	}
	return engine.NewForbidden(rule)
}

// Watch reloads the ruleset when the policy directory changes. It blocks
// until ctx is cancelled.
func (a *Authorizer) Watch(ctx context.Context) error {
	if !a.cfg.Enabled || a.cfg.Dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()
	a.watcher = watcher

	if err := watcher.Add(a.cfg.Dir); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			if err := a.Reload(ctx); err != nil && a.logger != nil {
				a.logger.WithError(err).Error("policy reload failed, keeping previous ruleset")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if a.logger != nil {
				a.logger.WithError(err).Warn("policy watcher error")
			}
		}
	}
}
