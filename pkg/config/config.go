// Package config loads and validates kernel configuration. Bad
// configuration is a construction-time error: the schema check runs before
// any component is built, so the kernel never starts half-configured.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
	"github.com/Nerval-Labs/reflex/pkg/guard"
	"github.com/Nerval-Labs/reflex/pkg/pattern"
	"github.com/Nerval-Labs/reflex/pkg/quorum"
	"github.com/Nerval-Labs/reflex/pkg/tick"
)

// Config is the full kernel configuration document.
type Config struct {
	Kernel    KernelConfig    `yaml:"kernel" json:"kernel"`
	Guards    []GuardSpec     `yaml:"guards" json:"guards"`
	Workflow  WorkflowConfig  `yaml:"workflow" json:"workflow"`
	Quorum    QuorumConfig    `yaml:"quorum" json:"quorum"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	LogLevel  string          `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// KernelConfig tunes the reflex tier.
type KernelConfig struct {
	Shards       int    `yaml:"shards" json:"shards"`
	BudgetTicks  uint64 `yaml:"budget_ticks" json:"budget_ticks"`
	BeatTicks    uint64 `yaml:"beat_ticks,omitempty" json:"beat_ticks,omitempty"`
	ParkCapacity int    `yaml:"park_capacity,omitempty" json:"park_capacity,omitempty"`
}

// GuardSpec declares one admission guard. Children is only meaningful for
// kind "composite".
type GuardSpec struct {
	Kind      string      `yaml:"kind" json:"kind"`
	Threshold uint64      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Children  []GuardSpec `yaml:"children,omitempty" json:"children,omitempty"`
}

// WorkflowConfig declares the registered steps.
type WorkflowConfig struct {
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// StepSpec binds a named step to a catalogue pattern.
type StepSpec struct {
	Name          string `yaml:"name" json:"name"`
	Pattern       string `yaml:"pattern" json:"pattern"`
	MaxInstances  uint32 `yaml:"max_instances,omitempty" json:"max_instances,omitempty"`
	JoinThreshold uint32 `yaml:"join_threshold,omitempty" json:"join_threshold,omitempty"`
	TimeoutTicks  uint64 `yaml:"timeout_ticks,omitempty" json:"timeout_ticks,omitempty"`
}

// QuorumConfig declares the peer set and collection window.
type QuorumConfig struct {
	Coordinator string     `yaml:"coordinator" json:"coordinator"`
	TimeoutMs   int        `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Peers       []PeerSpec `yaml:"peers" json:"peers"`
}

// PeerSpec is one quorum peer with a hex ed25519 public key. Peers whose
// votes are produced in this process additionally carry the hex seed of
// their signing key.
type PeerSpec struct {
	ID         string `yaml:"id" json:"id"`
	PublicKey  string `yaml:"public_key" json:"public_key"`
	PrivateKey string `yaml:"private_key,omitempty" json:"private_key,omitempty"`
}

// StorageConfig selects the lockchain backend.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite" | "postgres" | "memory"
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Load reads, schema-validates, and defaults a configuration file.
// Environment variables override the file afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and defaults a raw YAML document.
func Parse(data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees the value shapes it
	// expects (json.Number arithmetic, string keys).
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("config: normalize: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(jsonDoc, &normalized); err != nil {
		return nil, fmt.Errorf("config: normalize: %w", err)
	}
	if err := compiledSchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("config: schema validation failed: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Kernel.Shards == 0 {
		c.Kernel.Shards = 1
	}
	if c.Kernel.BudgetTicks == 0 {
		c.Kernel.BudgetTicks = tick.DefaultBudget
	}
	if c.Kernel.BeatTicks == 0 {
		c.Kernel.BeatTicks = tick.DefaultBudget
	}
	if c.Kernel.ParkCapacity == 0 {
		c.Kernel.ParkCapacity = 1024
	}
	if c.Quorum.TimeoutMs == 0 {
		c.Quorum.TimeoutMs = 5000
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// applyEnv layers environment overrides in the REFLEX_ namespace.
func (c *Config) applyEnv() {
	if v := os.Getenv("REFLEX_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("REFLEX_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("REFLEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REFLEX_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("REFLEX_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Kernel.Shards = n
		}
	}
}

// BuildGuards converts the guard specs into a validated set.
func (c *Config) BuildGuards() (*guard.Set, error) {
	guards := make([]guard.Guard, 0, len(c.Guards))
	for i, spec := range c.Guards {
		g, err := buildGuard(spec)
		if err != nil {
			return nil, fmt.Errorf("config: guard %d: %w", i, err)
		}
		guards = append(guards, g)
	}
	return guard.NewSet(guards...)
}

func buildGuard(spec GuardSpec) (guard.Guard, error) {
	children := make([]guard.Guard, 0, len(spec.Children))
	for _, cs := range spec.Children {
		child, err := buildGuard(cs)
		if err != nil {
			return guard.Guard{}, err
		}
		children = append(children, child)
	}
	return guard.FromSpec(spec.Kind, spec.Threshold, children)
}

// RegisterSteps registers every workflow step and returns name -> id.
func (c *Config) RegisterSteps(reg *pattern.Registry) (map[string]uint32, error) {
	ids := make(map[string]uint32, len(c.Workflow.Steps))
	for _, step := range c.Workflow.Steps {
		t, ok := pattern.TypeFromName(step.Pattern)
		if !ok {
			return nil, fmt.Errorf("config: step %q: unknown pattern %q", step.Name, step.Pattern)
		}
		id, err := reg.Register(step.Name, t, pattern.Config{
			MaxInstances:  step.MaxInstances,
			JoinThreshold: step.JoinThreshold,
			TimeoutTicks:  step.TimeoutTicks,
		})
		if err != nil {
			return nil, fmt.Errorf("config: step %q: %w", step.Name, err)
		}
		ids[step.Name] = id
	}
	return ids, nil
}

// PeerSet decodes the configured quorum peers.
func (c *Config) PeerSet() ([]quorum.Peer, error) {
	peers := make([]quorum.Peer, 0, len(c.Quorum.Peers))
	for _, p := range c.Quorum.Peers {
		pub, err := crypto.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("config: peer %s: %w", p.ID, err)
		}
		peers = append(peers, quorum.Peer{ID: quorum.PeerID(p.ID), PublicKey: pub})
	}
	return peers, nil
}

// PeerSigners builds signers for every peer that carries a private key,
// checking each derived public key against the declared one.
func (c *Config) PeerSigners() (map[quorum.PeerID]crypto.Signer, error) {
	signers := make(map[quorum.PeerID]crypto.Signer)
	for _, p := range c.Quorum.Peers {
		if p.PrivateKey == "" {
			continue
		}
		s, err := crypto.NewEd25519SignerFromSeed(p.PrivateKey, p.ID)
		if err != nil {
			return nil, fmt.Errorf("config: peer %s: %w", p.ID, err)
		}
		if s.PublicKeyHex() != strings.ToLower(p.PublicKey) {
			return nil, fmt.Errorf("config: peer %s: private key does not match public_key", p.ID)
		}
		signers[quorum.PeerID(p.ID)] = s
	}
	return signers, nil
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://reflex.schemas.local/config.schema.json"
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("config: schema load failed: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("config: schema compile failed: %v", err))
	}
	return s
}
