package capability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/detailhub/zoneconfigurator/model"
	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
	// Default capabilities are granted to every authenticated subject.
	Default []string `yaml:"default"`
}

// StaticPolicyEvaluator resolves capabilities from a static YAML file
// mapping roles to capability strings. Entries may end in "*" to grant a
// whole namespace, e.g. "configurator:*".
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator creates a new evaluator that loads policies from path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, cap := range e.policy.Default {
		caps[cap] = true
	}
	for _, role := range rctx.Roles {
		for _, cap := range e.policy.Roles[role] {
			caps[cap] = true
		}
	}
	return caps, nil
}

// Sync reloads the policy file from disk.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}
	for role, caps := range p.Roles {
		for _, cap := range caps {
			if strings.TrimSpace(cap) == "" {
				return fmt.Errorf("capability: role %q has an empty capability", role)
			}
		}
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}
