// Package config loads the supervisor configuration: server-level settings
// (tick periods, redis, database) and the cluster, maintainer, container and
// kernel maps that describe the downstream HPC sites. The file format is
// YAML; server-level fields can additionally be overridden by flags in cmd.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// QueueConsumePeriodSeconds is the supervisor admission tick period.
	QueueConsumePeriodSeconds int `yaml:"queue_consume_time_period_in_seconds"`

	// WorkerPollIntervalSeconds is the cooperative delay between maintain
	// calls inside one job worker. Throttles remote polling and gives
	// cancellation a chance to be observed.
	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_in_seconds"`

	// LocalWorkDir holds git mirrors and temporary zips on the supervisor
	// host.
	LocalWorkDir string `yaml:"local_work_dir"`

	Redis    Redis  `yaml:"redis"`
	DB       DB     `yaml:"db"`
	HTTPAddr string `yaml:"http_addr"`

	GlobusClientID string `yaml:"globus_client_id"`

	// Webhook, when set, receives a signed POST for every job that ends.
	Webhook *Webhook `yaml:"webhook"`

	Hpcs        map[string]Cluster          `yaml:"hpc"`
	Maintainers map[string]MaintainerConfig `yaml:"maintainer"`
	Containers  map[string]Container        `yaml:"container"`
	Kernels     map[string]Kernel           `yaml:"kernel"`
}

// Redis describes the key-value store holding queues, credentials, result
// listings and Globus task labels.
type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Webhook configures the outbound job-completion notification endpoint.
type Webhook struct {
	URL string `yaml:"url"`

	// Secret, when non-empty, is used to HMAC-sign the request body.
	Secret string `yaml:"secret"`
}

// DB describes the relational store.
type DB struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`
}

// Cluster describes one downstream HPC site reachable over SSH and running
// Slurm.
type Cluster struct {
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	RootPath string `yaml:"root_path"`

	// JobPoolCapacity bounds the number of concurrently running jobs
	// admitted on this cluster. Zero means no job is ever admitted.
	JobPoolCapacity int `yaml:"job_pool_capacity"`

	// IsCommunityAccount selects the shared-account connection discipline:
	// one ref-counted shell per cluster instead of one shell per job.
	IsCommunityAccount bool   `yaml:"is_community_account"`
	CommunityLogin     *Login `yaml:"community_login"`

	Globus *GlobusEndpoint `yaml:"globus"`

	SlurmInputRules SlurmCeiling `yaml:"slurm_input_rules"`
	SlurmGlobalCap  SlurmCeiling `yaml:"slurm_global_cap"`

	// Mount maps host paths into the container for the community variant.
	Mount map[string]string `yaml:"mount"`
}

// Login carries the credentials of a shared community account.
type Login struct {
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// GlobusEndpoint identifies the cluster-side Globus collection used for
// remote-to-remote staging.
type GlobusEndpoint struct {
	Endpoint string `yaml:"endpoint"`
	RootPath string `yaml:"root_path"`
	Identity string `yaml:"identity"`
}

// SlurmCeiling is one set of per-dimension Slurm resource maxima. Zero or
// empty values mean the dimension is unconstrained at this layer.
// Memory fields are unit-bearing strings ("10G"); WallTime uses Slurm time
// syntax ("D-HH:MM:SS", "HH:MM:SS", "MM:SS" or "MM").
type SlurmCeiling struct {
	Nodes        int    `yaml:"num_of_node"`
	Tasks        int    `yaml:"num_of_task"`
	CPUsPerTask  int    `yaml:"cpu_per_task"`
	MemoryPerCPU string `yaml:"memory_per_cpu"`
	Memory       string `yaml:"memory"`
	GPUs         int    `yaml:"num_of_gpus"`
	WallTime     string `yaml:"time"`
}

// MaintainerConfig binds a maintainer discriminator to its variant and
// default cluster.
type MaintainerConfig struct {
	// Maintainer is the variant tag resolved against the static registry:
	// "community_contribution" or "basic".
	Maintainer string `yaml:"maintainer"`
	DefaultHpc string `yaml:"default_hpc"`
}

// Container describes a Singularity image available on one or more clusters.
type Container struct {
	HpcPath string `yaml:"hpc_path"`
}

// Kernel describes an environment-init preamble injected before the
// execution stage of a community job.
type Kernel struct {
	EnvInit []string `yaml:"env"`
}

// Load reads, parses and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects configurations the supervisor cannot
// run with.
func (c *Config) Validate() error {
	if c.QueueConsumePeriodSeconds <= 0 {
		c.QueueConsumePeriodSeconds = 3
	}
	if c.WorkerPollIntervalSeconds <= 0 {
		c.WorkerPollIntervalSeconds = 3
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LocalWorkDir == "" {
		c.LocalWorkDir = "./data"
	}
	if len(c.Hpcs) == 0 {
		return fmt.Errorf("config: at least one hpc entry is required")
	}

	for name, hpc := range c.Hpcs {
		if hpc.IP == "" {
			return fmt.Errorf("config: hpc %s: ip is required", name)
		}
		if hpc.RootPath == "" {
			return fmt.Errorf("config: hpc %s: root_path is required", name)
		}
		if hpc.Port == 0 {
			hpc.Port = 22
		}
		if hpc.IsCommunityAccount && hpc.CommunityLogin == nil {
			return fmt.Errorf("config: hpc %s: community_login is required for community accounts", name)
		}
		c.Hpcs[name] = hpc
	}

	for name, m := range c.Maintainers {
		if m.Maintainer == "" {
			return fmt.Errorf("config: maintainer %s: variant tag is required", name)
		}
		if _, ok := c.Hpcs[m.DefaultHpc]; m.DefaultHpc != "" && !ok {
			return fmt.Errorf("config: maintainer %s: unknown default_hpc %q", name, m.DefaultHpc)
		}
	}

	return nil
}

// ClusterNames returns the configured cluster names in deterministic
// (sorted) order. The admission loop iterates clusters in this order.
func (c *Config) ClusterNames() []string {
	names := make([]string, 0, len(c.Hpcs))
	for name := range c.Hpcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueueConsumePeriod returns the admission tick period as a duration.
func (c *Config) QueueConsumePeriod() time.Duration {
	return time.Duration(c.QueueConsumePeriodSeconds) * time.Second
}

// WorkerPollInterval returns the per-worker maintain delay as a duration.
func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalSeconds) * time.Second
}
