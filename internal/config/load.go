package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// aliasTable maps deprecated option names to their current equivalents.
// Resolved once during load; a deprecated name is accepted as a synonym and
// is otherwise inert (the current name wins when both are present).
var aliasTable = map[string]string{
	"gitfs_env_whitelist": "gitfs_saltenv_whitelist",
	"gitfs_env_blacklist": "gitfs_saltenv_blacklist",
	"env_whitelist":       "saltenv_whitelist",
	"env_blacklist":       "saltenv_blacklist",
}

// perRemoteKeys is the set of options a remote block may carry. Anything
// else is a load-time error.
var perRemoteKeys = map[string]bool{
	"mountpoint":              true,
	"root":                    true,
	"base":                    true,
	"ref_types":               true,
	"saltenv":                 true,
	"disable_saltenv_mapping": true,
	"saltenv_whitelist":       true,
	"saltenv_blacklist":       true,
	"user":                    true,
	"password":                true,
	"privkey":                 true,
	"pubkey":                  true,
	"passphrase":              true,
	"insecure_auth":           true,
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(data)
}

// Load parses the legacy YAML configuration surface into a Config.
// Unknown top-level keys are ignored (the master config carries options for
// other subsystems); unknown per-remote options are fatal.
func Load(data []byte) (*Config, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	resolveAliases(raw)

	c := New()
	var err error
	if node, ok := raw["cachedir"]; ok {
		if err = node.Decode(&c.CacheDir); err != nil {
			return nil, keyErr("cachedir", err)
		}
	}
	if node, ok := raw["gitfs_provider"]; ok {
		if err = node.Decode(&c.Provider); err != nil {
			return nil, keyErr("gitfs_provider", err)
		}
	}
	if node, ok := raw["gitfs_root"]; ok {
		if err = node.Decode(&c.Root); err != nil {
			return nil, keyErr("gitfs_root", err)
		}
	}
	if node, ok := raw["gitfs_base"]; ok {
		if err = node.Decode(&c.Base); err != nil {
			return nil, keyErr("gitfs_base", err)
		}
	}
	if node, ok := raw["gitfs_mountpoint"]; ok {
		if err = node.Decode(&c.Mountpoint); err != nil {
			return nil, keyErr("gitfs_mountpoint", err)
		}
	}
	if node, ok := raw["gitfs_fallback"]; ok {
		if err = node.Decode(&c.Fallback); err != nil {
			return nil, keyErr("gitfs_fallback", err)
		}
	}
	if node, ok := raw["gitfs_saltenv_whitelist"]; ok {
		if c.Whitelist, err = stringList(&node); err != nil {
			return nil, keyErr("gitfs_saltenv_whitelist", err)
		}
	}
	if node, ok := raw["gitfs_saltenv_blacklist"]; ok {
		if c.Blacklist, err = stringList(&node); err != nil {
			return nil, keyErr("gitfs_saltenv_blacklist", err)
		}
	}
	if node, ok := raw["gitfs_ref_types"]; ok {
		if c.RefTypes, err = refTypeList(&node); err != nil {
			return nil, keyErr("gitfs_ref_types", err)
		}
	}
	if node, ok := raw["gitfs_disable_saltenv_mapping"]; ok {
		if err = node.Decode(&c.DisableSaltenvMapping); err != nil {
			return nil, keyErr("gitfs_disable_saltenv_mapping", err)
		}
	}
	if node, ok := raw["gitfs_refspecs"]; ok {
		if c.Refspecs, err = stringList(&node); err != nil {
			return nil, keyErr("gitfs_refspecs", err)
		}
	}
	if node, ok := raw["gitfs_update_interval"]; ok {
		var secs int
		if err = node.Decode(&secs); err != nil {
			return nil, keyErr("gitfs_update_interval", err)
		}
		c.UpdateInterval = time.Duration(secs) * time.Second
	}
	if node, ok := raw["file_buffer_size"]; ok {
		if err = node.Decode(&c.FileBufferSize); err != nil {
			return nil, keyErr("file_buffer_size", err)
		}
	}
	for key, dst := range map[string]*string{
		"gitfs_user":       &c.Auth.User,
		"gitfs_password":   &c.Auth.Password,
		"gitfs_privkey":    &c.Auth.PrivKey,
		"gitfs_pubkey":     &c.Auth.PubKey,
		"gitfs_passphrase": &c.Auth.Passphrase,
	} {
		if node, ok := raw[key]; ok {
			if err = node.Decode(dst); err != nil {
				return nil, keyErr(key, err)
			}
		}
	}
	if node, ok := raw["gitfs_insecure_auth"]; ok {
		if err = node.Decode(&c.Auth.InsecureAuth); err != nil {
			return nil, keyErr("gitfs_insecure_auth", err)
		}
	}
	if node, ok := raw["gitfs_saltenv"]; ok {
		if c.Saltenv, err = saltenvTable(&node); err != nil {
			return nil, keyErr("gitfs_saltenv", err)
		}
	}
	if node, ok := raw["gitfs_remotes"]; ok {
		if c.Remotes, err = remoteList(&node); err != nil {
			return nil, keyErr("gitfs_remotes", err)
		}
	}

	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

func keyErr(key string, err error) error {
	return fmt.Errorf("option %s: %w", key, err)
}

// resolveAliases rewrites deprecated top-level option names in place.
func resolveAliases(raw map[string]yaml.Node) {
	for old, current := range aliasTable {
		node, ok := raw[old]
		if !ok {
			continue
		}
		if _, exists := raw[current]; !exists {
			raw[current] = node
		}
		delete(raw, old)
	}
}

// stringList decodes a scalar-or-list value: "base" and ["base"] are
// equivalent, matching the legacy surface.
func stringList(node *yaml.Node) ([]string, error) {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func refTypeList(node *yaml.Node) ([]RefType, error) {
	strs, err := stringList(node)
	if err != nil {
		return nil, err
	}
	out := make([]RefType, 0, len(strs))
	for _, s := range strs {
		t := RefType(s)
		if err := validRefType(t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// foldOptions flattens a remote or saltenv option block into a key → node
// map. The legacy shape is a sequence of single-key mappings; a plain
// mapping is accepted as well. Deprecated per-block aliases resolve here.
func foldOptions(node *yaml.Node) (map[string]*yaml.Node, error) {
	opts := map[string]*yaml.Node{}
	add := func(key *yaml.Node, val *yaml.Node) error {
		var name string
		if err := key.Decode(&name); err != nil {
			return err
		}
		if current, aliased := aliasTable[name]; aliased {
			if _, exists := opts[current]; !exists {
				opts[current] = val
			}
			return nil
		}
		if _, dup := opts[name]; dup {
			return fmt.Errorf("option %q given more than once", name)
		}
		opts[name] = val
		return nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return nil, fmt.Errorf("expected single-key mapping, got %s", item.Tag)
			}
			if err := add(item.Content[0], item.Content[1]); err != nil {
				return nil, err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := add(node.Content[i], node.Content[i+1]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("expected mapping or list of mappings")
	}
	return opts, nil
}

// overrideSet decodes a {mountpoint, ref, root} block.
func overrideSet(node *yaml.Node) (OverrideSet, error) {
	opts, err := foldOptions(node)
	if err != nil {
		return OverrideSet{}, err
	}
	var ov OverrideSet
	for key, val := range opts {
		var s string
		if err := val.Decode(&s); err != nil {
			return OverrideSet{}, fmt.Errorf("option %s: %w", key, err)
		}
		switch key {
		case "mountpoint":
			ov.Mountpoint = &s
		case "ref":
			ov.Ref = &s
		case "root":
			ov.Root = &s
		default:
			return OverrideSet{}, fmt.Errorf("invalid saltenv option %q", key)
		}
	}
	return ov, nil
}

// saltenvTable decodes a per-environment override table: a sequence of
// single-key mappings env name → override block.
func saltenvTable(node *yaml.Node) (map[string]OverrideSet, error) {
	blocks, err := foldOptions(node)
	if err != nil {
		return nil, err
	}
	out := make(map[string]OverrideSet, len(blocks))
	for env, block := range blocks {
		ov, err := overrideSet(block)
		if err != nil {
			return nil, fmt.Errorf("saltenv %s: %w", env, err)
		}
		out[env] = ov
	}
	return out, nil
}

// remoteList decodes gitfs_remotes: each entry is either a bare URL string
// or a single-key mapping URL → list of per-remote option mappings.
func remoteList(node *yaml.Node) ([]*Remote, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of remotes")
	}
	var out []*Remote
	for _, item := range node.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			var url string
			if err := item.Decode(&url); err != nil {
				return nil, err
			}
			out = append(out, &Remote{URL: url})
		case yaml.MappingNode:
			if len(item.Content) != 2 {
				return nil, fmt.Errorf("remote entry must have exactly one URL key")
			}
			var url string
			if err := item.Content[0].Decode(&url); err != nil {
				return nil, err
			}
			rem, err := remoteOptions(url, item.Content[1])
			if err != nil {
				return nil, fmt.Errorf("remote %s: %w", url, err)
			}
			out = append(out, rem)
		default:
			return nil, fmt.Errorf("invalid remote entry")
		}
	}
	return out, nil
}

func remoteOptions(url string, node *yaml.Node) (*Remote, error) {
	opts, err := foldOptions(node)
	if err != nil {
		return nil, err
	}
	rem := &Remote{URL: url}
	for key, val := range opts {
		if !perRemoteKeys[key] {
			return nil, fmt.Errorf("invalid per-remote option %q", key)
		}
		switch key {
		case "mountpoint", "root", "base", "user", "password", "privkey", "pubkey", "passphrase":
			var s string
			if err := val.Decode(&s); err != nil {
				return nil, fmt.Errorf("option %s: %w", key, err)
			}
			switch key {
			case "mountpoint":
				rem.Mountpoint = &s
			case "root":
				rem.Root = &s
			case "base":
				rem.Base = &s
			case "user":
				rem.User = &s
			case "password":
				rem.Password = &s
			case "privkey":
				rem.PrivKey = &s
			case "pubkey":
				rem.PubKey = &s
			case "passphrase":
				rem.Passphrase = &s
			}
		case "ref_types":
			if rem.RefTypes, err = refTypeList(val); err != nil {
				return nil, fmt.Errorf("option ref_types: %w", err)
			}
		case "disable_saltenv_mapping", "insecure_auth":
			var b bool
			if err := val.Decode(&b); err != nil {
				return nil, fmt.Errorf("option %s: %w", key, err)
			}
			if key == "disable_saltenv_mapping" {
				rem.DisableSaltenvMapping = &b
			} else {
				rem.InsecureAuth = &b
			}
		case "saltenv":
			if rem.Saltenv, err = saltenvTable(val); err != nil {
				return nil, err
			}
		case "saltenv_whitelist":
			if rem.Whitelist, err = stringList(val); err != nil {
				return nil, fmt.Errorf("option saltenv_whitelist: %w", err)
			}
		case "saltenv_blacklist":
			if rem.Blacklist, err = stringList(val); err != nil {
				return nil, fmt.Errorf("option saltenv_blacklist: %w", err)
			}
		}
	}
	return rem, nil
}
