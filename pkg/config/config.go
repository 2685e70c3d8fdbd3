// Package config loads the locksmith node configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML config file, a .env file, LOCKSMITH_* environment variables, and
// finally command-line flags (applied by the caller).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/logger"
	"github.com/fortiblox/locksmith/pkg/node"
	"github.com/fortiblox/locksmith/pkg/rpc"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOCKSMITH_"

// Config is the on-disk node configuration.
type Config struct {
	DataDir    string        `yaml:"dataDir"`
	InMemory   bool          `yaml:"inMemory"`
	SyncWrites bool          `yaml:"syncWrites"`
	GCInterval time.Duration `yaml:"gcInterval"`

	ComputeUnitLimit uint64 `yaml:"computeUnitLimit"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Journal  JournalConfig  `yaml:"journal"`
	RPC      RPCConfig      `yaml:"rpc"`
	Genesis  GenesisConfig  `yaml:"genesis"`
	Log      logger.Config  `yaml:"log"`
}

type SnapshotConfig struct {
	// In seeds an empty ledger.
	In string `yaml:"in"`
	// Out is written on shutdown.
	Out string `yaml:"out"`
}

type JournalConfig struct {
	Prune  bool   `yaml:"prune"`
	Retain uint64 `yaml:"retain"`
}

type RPCConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addr               string        `yaml:"addr"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	MaxRequestSize     int64         `yaml:"maxRequestSize"`
	CORS               bool          `yaml:"cors"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	LogRequests        bool          `yaml:"logRequests"`
	SendTransaction    bool          `yaml:"sendTransaction"`
	MaxAirdropLamports uint64        `yaml:"maxAirdropLamports"`
}

// GenesisConfig holds base58 keys; empty keys are skipped at genesis.
type GenesisConfig struct {
	Faucet         string `yaml:"faucet"`
	FaucetLamports uint64 `yaml:"faucetLamports"`
	Admin          string `yaml:"admin"`
	AdminLamports  uint64 `yaml:"adminLamports"`
	USDCAuthority  string `yaml:"usdcAuthority"`
	USDCDecimals   uint8  `yaml:"usdcDecimals"`
}

// DefaultConfig mirrors the node and rpc defaults.
func DefaultConfig() Config {
	nodeDefaults := node.DefaultConfig()
	rpcDefaults := rpc.DefaultConfig()
	return Config{
		DataDir:    nodeDefaults.DataDir,
		SyncWrites: nodeDefaults.SyncWrites,
		GCInterval: nodeDefaults.GCInterval,
		Journal: JournalConfig{
			Prune:  nodeDefaults.JournalPrune,
			Retain: nodeDefaults.JournalRetain,
		},
		RPC: RPCConfig{
			Enabled:            nodeDefaults.RPCEnabled,
			Addr:               rpcDefaults.Addr,
			ReadTimeout:        rpcDefaults.ReadTimeout,
			WriteTimeout:       rpcDefaults.WriteTimeout,
			MaxRequestSize:     rpcDefaults.MaxRequestSize,
			CORS:               rpcDefaults.EnableCORS,
			MaxAirdropLamports: rpcDefaults.MaxAirdropLamports,
		},
		Genesis: GenesisConfig{
			FaucetLamports: nodeDefaults.Genesis.FaucetLamports,
			AdminLamports:  nodeDefaults.Genesis.AdminLamports,
			USDCDecimals:   nodeDefaults.Genesis.USDCDecimals,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the .env file at envFile (skipped when missing) and the process
// environment.
func Load(path, envFile string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &config, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from LOCKSMITH_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.setString("DATA_DIR", &c.DataDir)
	env.setBool("IN_MEMORY", &c.InMemory)
	env.setBool("SYNC_WRITES", &c.SyncWrites)
	env.setDuration("GC_INTERVAL", &c.GCInterval)
	env.setUint64("COMPUTE_UNIT_LIMIT", &c.ComputeUnitLimit)

	env.setString("SNAPSHOT_IN", &c.Snapshot.In)
	env.setString("SNAPSHOT_OUT", &c.Snapshot.Out)

	env.setBool("JOURNAL_PRUNE", &c.Journal.Prune)
	env.setUint64("JOURNAL_RETAIN", &c.Journal.Retain)

	env.setBool("RPC_ENABLED", &c.RPC.Enabled)
	env.setString("RPC_ADDR", &c.RPC.Addr)
	env.setBool("RPC_LOG_REQUESTS", &c.RPC.LogRequests)
	env.setBool("RPC_SEND_TRANSACTION", &c.RPC.SendTransaction)
	env.setList("RPC_ALLOWED_ORIGINS", &c.RPC.AllowedOrigins)

	env.setString("GENESIS_FAUCET", &c.Genesis.Faucet)
	env.setUint64("GENESIS_FAUCET_LAMPORTS", &c.Genesis.FaucetLamports)
	env.setString("GENESIS_ADMIN", &c.Genesis.Admin)
	env.setUint64("GENESIS_ADMIN_LAMPORTS", &c.Genesis.AdminLamports)
	env.setString("GENESIS_USDC_AUTHORITY", &c.Genesis.USDCAuthority)

	env.setString("LOG_LEVEL", &c.Log.Level)
	env.setString("LOG_FORMAT", &c.Log.Format)
	env.setString("LOG_FILE", &c.Log.File)

	return env.err
}

// envReader records the first malformed value.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	e.err = errors.Wrapf(err, "invalid %s%s", EnvPrefix, key)
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setUint64(key string, dst *uint64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func parseKey(what, s string) (types.Pubkey, error) {
	if s == "" {
		return types.Pubkey{}, nil
	}
	key, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, errors.Wrapf(err, "invalid %s", what)
	}
	return key, nil
}

// NodeConfig converts c into a validated node configuration.
func (c *Config) NodeConfig() (*node.Config, error) {
	faucet, err := parseKey("genesis faucet", c.Genesis.Faucet)
	if err != nil {
		return nil, err
	}
	admin, err := parseKey("genesis admin", c.Genesis.Admin)
	if err != nil {
		return nil, err
	}
	usdcAuthority, err := parseKey("genesis usdc authority", c.Genesis.USDCAuthority)
	if err != nil {
		return nil, err
	}

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = c.RPC.Addr
	rpcConfig.ReadTimeout = c.RPC.ReadTimeout
	rpcConfig.WriteTimeout = c.RPC.WriteTimeout
	rpcConfig.MaxRequestSize = c.RPC.MaxRequestSize
	rpcConfig.EnableCORS = c.RPC.CORS
	rpcConfig.AllowedOrigins = c.RPC.AllowedOrigins
	rpcConfig.LogRequests = c.RPC.LogRequests
	rpcConfig.EnableSendTransaction = c.RPC.SendTransaction
	rpcConfig.MaxAirdropLamports = c.RPC.MaxAirdropLamports

	config := &node.Config{
		DataDir:          c.DataDir,
		InMemory:         c.InMemory,
		SyncWrites:       c.SyncWrites,
		GCInterval:       c.GCInterval,
		SnapshotIn:       c.Snapshot.In,
		SnapshotOut:      c.Snapshot.Out,
		JournalPrune:     c.Journal.Prune,
		JournalRetain:    c.Journal.Retain,
		ComputeUnitLimit: c.ComputeUnitLimit,
		RPCEnabled:       c.RPC.Enabled,
		RPC:              rpcConfig,
		Genesis: node.GenesisConfig{
			Faucet:         faucet,
			FaucetLamports: c.Genesis.FaucetLamports,
			Admin:          admin,
			AdminLamports:  c.Genesis.AdminLamports,
			USDCAuthority:  usdcAuthority,
			USDCDecimals:   c.Genesis.USDCDecimals,
		},
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
