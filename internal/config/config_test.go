package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
hpc:
  test_cluster:
    ip: 10.0.0.1
    root_path: /work
`

func TestLoad_FillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.QueueConsumePeriodSeconds)
	assert.Equal(t, 3, cfg.WorkerPollIntervalSeconds)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "./data", cfg.LocalWorkDir)
	assert.Equal(t, 22, cfg.Hpcs["test_cluster"].Port)
	assert.Equal(t, 3*time.Second, cfg.QueueConsumePeriod())
	assert.Equal(t, 3*time.Second, cfg.WorkerPollInterval())
}

func TestLoad_FullDocument(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
queue_consume_time_period_in_seconds: 5
worker_poll_interval_in_seconds: 10
http_addr: ":9000"
local_work_dir: /var/lib/hpcgate
redis:
  host: localhost
  port: 6379
db:
  driver: sqlite
  dsn: file:test.db
webhook:
  url: https://hooks.example.com/jobs
  secret: shh
hpc:
  big_cluster:
    ip: 10.0.0.1
    port: 2222
    root_path: /work
    job_pool_capacity: 4
    is_community_account: true
    community_login:
      user: svc
      password: pw
    slurm_input_rules:
      num_of_node: 8
      time: "02:00:00"
maintainer:
  hello_world:
    maintainer: community_contribution
    default_hpc: big_cluster
container:
  python:
    hpc_path: /containers/python.sif
kernel:
  conda:
    env:
      - source activate base
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.QueueConsumePeriodSeconds)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "https://hooks.example.com/jobs", cfg.Webhook.URL)

	cluster := cfg.Hpcs["big_cluster"]
	assert.Equal(t, 2222, cluster.Port)
	assert.Equal(t, 4, cluster.JobPoolCapacity)
	assert.True(t, cluster.IsCommunityAccount)
	require.NotNil(t, cluster.CommunityLogin)
	assert.Equal(t, "svc", cluster.CommunityLogin.User)
	assert.Equal(t, 8, cluster.SlurmInputRules.Nodes)
	assert.Equal(t, "02:00:00", cluster.SlurmInputRules.WallTime)

	assert.Equal(t, "community_contribution", cfg.Maintainers["hello_world"].Maintainer)
	assert.Equal(t, "/containers/python.sif", cfg.Containers["python"].HpcPath)
	assert.Equal(t, []string{"source activate base"}, cfg.Kernels["conda"].EnvInit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestValidate_RequiresClusters(t *testing.T) {
	_, err := Load(writeConfig(t, "http_addr: ':8080'\n"))
	assert.Error(t, err)
}

func TestValidate_RequiresClusterIP(t *testing.T) {
	_, err := Load(writeConfig(t, `
hpc:
  broken:
    root_path: /work
`))
	assert.Error(t, err)
}

func TestValidate_CommunityAccountNeedsLogin(t *testing.T) {
	_, err := Load(writeConfig(t, `
hpc:
  broken:
    ip: 10.0.0.1
    root_path: /work
    is_community_account: true
`))
	assert.Error(t, err)
}

func TestValidate_MaintainerDefaultHpcMustExist(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
maintainer:
  hello:
    maintainer: basic
    default_hpc: no_such_cluster
`))
	assert.Error(t, err)
}

func TestClusterNames_Sorted(t *testing.T) {
	cfg := &Config{Hpcs: map[string]Cluster{
		"zeta":  {},
		"alpha": {},
		"mid":   {},
	}}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, cfg.ClusterNames())
}
