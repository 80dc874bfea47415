// Package config loads table configuration from JSONC files and overlays
// flag and environment values bound through viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/tailscale/hujson"

	"github.com/IvanBrykalov/hkvtable/hkv"
	"github.com/IvanBrykalov/hkvtable/keys"
	"github.com/IvanBrykalov/hkvtable/policy"
	"github.com/IvanBrykalov/hkvtable/policy/busy"
	"github.com/IvanBrykalov/hkvtable/policy/idle"
)

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config")
	// ErrUnknownPolicy is returned for a policy name other than idle or busy.
	ErrUnknownPolicy = errors.New("config: unknown eviction policy")
)

// Viper keys, shared with the CLI flags of the same name.
const (
	KeyName         = "name"
	KeyObjectSize   = "object-size"
	KeyObjectsLimit = "objects-limit"
	KeySharedCount  = "shared-count"
	KeyKeyType      = "key-type"
	KeyPolicy       = "policy"
	KeyHeap         = "heap"
)

// Config describes one table.
type Config struct {
	Name         string    `json:"name"`
	ObjectSize   int       `json:"object_size"`
	ObjectsLimit int32     `json:"objects_limit"`
	SharedCount  uint32    `json:"shared_count"`
	KeyType      keys.Kind `json:"key_type"`
	Policy       string    `json:"policy"`
	Heap         bool      `json:"heap"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Name:       "default",
		ObjectSize: 64,
		KeyType:    keys.String,
		Policy:     "idle",
	}
}

// Load reads a JSONC file (comments and trailing commas allowed) on top of
// Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigRead, path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes JSONC on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", errConfigInvalid, err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", errConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envReplacer = strings.NewReplacer("-", "_")

// BindEnv makes v read <PREFIX>_<KEY> environment variables, with dashes in
// keys mapped to underscores (HKV_OBJECTS_LIMIT for objects-limit).
func BindEnv(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
}

// Merge overlays every key explicitly set in v (flag, env or default
// registered with viper) onto base.
func Merge(base Config, v *viper.Viper) Config {
	if v == nil {
		return base
	}
	if v.IsSet(KeyName) {
		base.Name = v.GetString(KeyName)
	}
	if v.IsSet(KeyObjectSize) {
		base.ObjectSize = v.GetInt(KeyObjectSize)
	}
	if v.IsSet(KeyObjectsLimit) {
		base.ObjectsLimit = v.GetInt32(KeyObjectsLimit)
	}
	if v.IsSet(KeySharedCount) {
		base.SharedCount = v.GetUint32(KeySharedCount)
	}
	if v.IsSet(KeyKeyType) {
		base.KeyType = keys.Kind(v.GetString(KeyKeyType))
	}
	if v.IsSet(KeyPolicy) {
		base.Policy = v.GetString(KeyPolicy)
	}
	if v.IsSet(KeyHeap) {
		base.Heap = v.GetBool(KeyHeap)
	}
	return base
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	if c.ObjectSize < 0 {
		return fmt.Errorf("%w: object_size must be >= 0, got %d", errConfigInvalid, c.ObjectSize)
	}
	if c.ObjectsLimit < 0 {
		return fmt.Errorf("%w: objects_limit must be >= 0, got %d", errConfigInvalid, c.ObjectsLimit)
	}
	if _, err := keys.Parse(string(c.KeyType)); err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	if _, err := PolicyByName(c.Policy); err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return nil
}

// PolicyByName resolves an eviction policy name. The empty name selects
// the default idle-first policy.
func PolicyByName(name string) (policy.Policy, error) {
	switch name {
	case "", "idle":
		return idle.New(), nil
	case "busy":
		return busy.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Options converts c into table options for key type K. Runtime-only
// fields (metrics, logger, hooks) are left for the caller.
func Options[K comparable](c Config) (hkv.Options[K], error) {
	if err := c.Validate(); err != nil {
		return hkv.Options[K]{}, err
	}
	pol, err := PolicyByName(c.Policy)
	if err != nil {
		return hkv.Options[K]{}, err
	}
	return hkv.Options[K]{
		Name:         c.Name,
		ObjectSize:   c.ObjectSize,
		ObjectsLimit: c.ObjectsLimit,
		SharedCount:  c.SharedCount,
		KeyType:      c.KeyType,
		Policy:       pol,
		Heap:         c.Heap,
	}, nil
}
