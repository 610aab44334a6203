// Package config resolves one node's identity, peer map, and timing
// tunables from environment variables and an optional yaml file,
// mirroring both reference raft_server.py variants' NODE_ID/PEERS
// environment contract while replacing their process-wide
// import-time globals with an explicit record built once at startup
// and threaded through the rest of the program.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raft"
)

// Config is everything needed to construct and serve one cluster
// member.
type Config struct {
	NodeID raft.PeerID          `yaml:"node_id"`
	Port   int                  `yaml:"port"`
	Peers  map[raft.PeerID]string `yaml:"peers"`

	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	ElectionTimeoutMin  time.Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax  time.Duration `yaml:"election_timeout_max"`
	RPCTimeout          time.Duration `yaml:"rpc_timeout"`
	ClientApplyTimeout  time.Duration `yaml:"client_apply_timeout"`

	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

// fileConfig mirrors Config but with yaml-friendly string durations,
// matching the way ChuLiYu-raft-recovery and bencoepp-bib shape their
// yaml.v3 configuration structs.
type fileConfig struct {
	NodeID int            `yaml:"node_id"`
	Port   int            `yaml:"port"`
	Peers  map[int]string `yaml:"peers"`

	HeartbeatInterval  string `yaml:"heartbeat_interval"`
	ElectionTimeoutMin string `yaml:"election_timeout_min"`
	ElectionTimeoutMax string `yaml:"election_timeout_max"`
	RPCTimeout         string `yaml:"rpc_timeout"`
	ClientApplyTimeout string `yaml:"client_apply_timeout"`

	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

// Default returns the tunable defaults from spec: a 300ms heartbeat,
// a 1.5-3s election window, 1s RPC deadline and a 5s client-apply
// timeout, taken from the question4/queue-service/raft_server.py
// constants.
func Default() Config {
	return Config{
		Port:                50051,
		Peers:               map[raft.PeerID]string{},
		HeartbeatInterval:   300 * time.Millisecond,
		ElectionTimeoutMin:  1500 * time.Millisecond,
		ElectionTimeoutMax:  3000 * time.Millisecond,
		RPCTimeout:          time.Second,
		ClientApplyTimeout:  5 * time.Second,
	}
}

// Load merges, in increasing priority, the built-in defaults, an
// optional yaml file, and environment variables (NODE_ID, PORT,
// PEERS, and the tunable overrides from spec.md §6).
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		fc, err := loadFile(yamlPath)
		if err != nil {
			return Config{}, err
		}
		applyFile(&cfg, fc)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if len(cfg.Peers) == 0 {
		return Config{}, fmt.Errorf("config: no peers configured (set PEERS or the peers: key in --config)")
	}
	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.NodeID != 0 {
		cfg.NodeID = raft.PeerID(fc.NodeID)
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	for id, addr := range fc.Peers {
		cfg.Peers[raft.PeerID(id)] = addr
	}
	if d, err := time.ParseDuration(fc.HeartbeatInterval); err == nil {
		cfg.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(fc.ElectionTimeoutMin); err == nil {
		cfg.ElectionTimeoutMin = d
	}
	if d, err := time.ParseDuration(fc.ElectionTimeoutMax); err == nil {
		cfg.ElectionTimeoutMax = d
	}
	if d, err := time.ParseDuration(fc.RPCTimeout); err == nil {
		cfg.RPCTimeout = d
	}
	if d, err := time.ParseDuration(fc.ClientApplyTimeout); err == nil {
		cfg.ClientApplyTimeout = d
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	cfg.Debug = cfg.Debug || fc.Debug
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("NODE_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: NODE_ID=%q: %w", v, err)
		}
		cfg.NodeID = raft.PeerID(id)
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT=%q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("PEERS"); v != "" {
		peers, err := parsePeers(v, cfg.NodeID)
		if err != nil {
			return err
		}
		for id, addr := range peers {
			cfg.Peers[id] = addr
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: HEARTBEAT_INTERVAL=%q: %w", v, err)
		}
		cfg.HeartbeatInterval = d
	}
	if v := os.Getenv("ELECTION_TIMEOUT_MIN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ELECTION_TIMEOUT_MIN=%q: %w", v, err)
		}
		cfg.ElectionTimeoutMin = d
	}
	if v := os.Getenv("ELECTION_TIMEOUT_MAX"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ELECTION_TIMEOUT_MAX=%q: %w", v, err)
		}
		cfg.ElectionTimeoutMax = d
	}
	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: RPC_TIMEOUT=%q: %w", v, err)
		}
		cfg.RPCTimeout = d
	}
	if v := os.Getenv("CLIENT_APPLY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CLIENT_APPLY_TIMEOUT=%q: %w", v, err)
		}
		cfg.ClientApplyTimeout = d
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

// parsePeers decodes the "id=host:port,id=host:port" format used by
// both reference raft_server.py variants, excluding the local id.
func parsePeers(raw string, self raft.PeerID) (map[raft.PeerID]string, error) {
	out := make(map[raft.PeerID]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: malformed PEERS entry %q", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("config: malformed peer id in %q: %w", entry, err)
		}
		if raft.PeerID(id) == self {
			continue
		}
		out[raft.PeerID(id)] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

// RaftConfig builds the raft.Config this node's Node should run with.
func (c Config) RaftConfig() raft.Config {
	peers := make([]raft.PeerID, 0, len(c.Peers))
	for id := range c.Peers {
		peers = append(peers, id)
	}
	return raft.Config{
		ID:                 c.NodeID,
		Peers:              peers,
		TickInterval:       50 * time.Millisecond,
		HeartbeatInterval:  c.HeartbeatInterval,
		ElectionTimeoutMin: c.ElectionTimeoutMin,
		ElectionTimeoutMax: c.ElectionTimeoutMax,
		RPCTimeout:         c.RPCTimeout,
		ClientApplyTimeout: c.ClientApplyTimeout,
	}
}

// ListenAddr is the address this node binds its gRPC server on.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("[::]:%d", c.Port)
}
