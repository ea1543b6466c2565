// Package policy builds per-capability tool allowlists for the actor
// harness. It adapts the teacher's tag/allow/block-list filtering engine to
// the kernel's fixed "allowed_tool_names per capability" model: one Config
// per capability name (researcher, terminal, writer delegation, ...).
package policy

import (
	"strings"

	"choiros.io/kernel/harness"
	"choiros.io/kernel/harness/tools"
)

// Config filters the tool set available to one capability. AllowTools takes
// precedence over AllowTags; BlockTools and BlockTags are always applied on
// top of whatever AllowTools/AllowTags produce.
type Config struct {
	AllowTools []tools.Ident
	BlockTools []tools.Ident
	AllowTags  []string
	BlockTags  []string
}

// ToolMetadata describes one tool available to a capability, including the
// tags Config's Allow/BlockTags match against.
type ToolMetadata struct {
	ID   tools.Ident
	Tags []string
}

// Engine evaluates Config for every configured capability.
type Engine struct {
	capabilities map[string]compiledConfig
}

type compiledConfig struct {
	allowTools map[tools.Ident]struct{}
	blockTools map[tools.Ident]struct{}
	allowTags  map[string]struct{}
	blockTags  map[string]struct{}
}

// NewEngine compiles one Config per capability into an Engine.
func NewEngine(configs map[string]Config) *Engine {
	e := &Engine{capabilities: make(map[string]compiledConfig, len(configs))}
	for capability, cfg := range configs {
		e.capabilities[capability] = compiledConfig{
			allowTools: toSet(cfg.AllowTools),
			blockTools: toSet(cfg.BlockTools),
			allowTags:  toStringSet(cfg.AllowTags),
			blockTags:  toStringSet(cfg.BlockTags),
		}
	}
	return e
}

// Filter returns the subset of candidates permitted for capability, given
// each candidate's metadata (for tag-based filtering; tags may be omitted).
func (e *Engine) Filter(capability string, candidates []ToolMetadata) []tools.Ident {
	cfg, ok := e.capabilities[capability]
	if !ok {
		return nil
	}
	allowed := make([]tools.Ident, 0, len(candidates))
	for _, md := range candidates {
		if cfg.isAllowed(md) {
			allowed = append(allowed, md.ID)
		}
	}
	return allowed
}

func (c compiledConfig) isAllowed(md ToolMetadata) bool {
	if _, blocked := c.blockTools[md.ID]; blocked {
		return false
	}
	for _, tag := range md.Tags {
		if _, blocked := c.blockTags[tag]; blocked {
			return false
		}
	}
	if len(c.allowTools) > 0 {
		_, ok := c.allowTools[md.ID]
		return ok
	}
	if len(c.allowTags) > 0 {
		for _, tag := range md.Tags {
			if _, ok := c.allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

// ToHarnessPolicy runs Filter for every configured capability against that
// capability's entry in catalog (applying allow/block tools and tags) and
// compiles the result into the flat capability -> allowed-names map the
// harness step loop checks at runtime. A tool absent from a capability's
// catalog entry is not allowed, even if AllowTools names it; tag filtering
// happens here because the loop itself only ever sees tool names, not
// metadata.
func (e *Engine) ToHarnessPolicy(catalog map[string][]ToolMetadata) harness.Policy {
	allowed := make(map[string][]tools.Ident, len(e.capabilities))
	for capability := range e.capabilities {
		allowed[capability] = e.Filter(capability, catalog[capability])
	}
	return harness.NewPolicy(allowed)
}

func toSet(values []tools.Ident) map[tools.Ident]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[tools.Ident]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toStringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
