package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "otter-perf", cmd.Use, "Root command should be 'otter-perf'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commands := cmd.Commands()
	assert.Len(t, commands, 3, "Should have 3 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["submit"], "Should have 'submit' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd, "buildRunCommand should return a non-nil command")
	assert.Equal(t, "run", cmd.Use, "Command should be 'run'")
	assert.Contains(t, cmd.Short, "Start", "Short description should mention 'Start'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildSubmitCommand(t *testing.T) {
	cmd := buildSubmitCommand()

	assert.NotNil(t, cmd, "buildSubmitCommand should return a non-nil command")
	assert.Equal(t, "submit", cmd.Use, "Command should be 'submit'")

	// 檢查 --file 標誌
	fileFlag := cmd.Flags().Lookup("file")
	assert.NotNil(t, fileFlag, "Should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand, "Should have -f shorthand")

	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd, "buildStatusCommand should return a non-nil command")
	assert.Equal(t, "status", cmd.Use, "Command should be 'status'")
	assert.Contains(t, cmd.Short, "status", "Short description should mention 'status'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
scheduler:
  max_queue_size: 256
  tick_interval: 50ms
  batch_budget: 25ms

cache:
  entry_limit: 64

worker:
  count: 4
  buffer: 32

metrics:
  enabled: true
  port: 8080
  history_limit: 30
  sample_interval: 5s
  probe_interval: 2s
  snapshot_interval: 10s

thresholds:
  max_avg_time_ms: 100
  max_error_rate: 0.05
  min_cache_hit_rate: 0.5
  max_memory_bytes: 104857600
  max_lag_ms: 50
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err, "Failed to write test config file")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "loadConfig should not return an error")
	require.NotNil(t, cfg, "Config should not be nil")

	// 驗證 Scheduler 配置
	assert.Equal(t, 256, cfg.Scheduler.MaxQueueSize, "Max queue size should be 256")
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval, "Tick interval should be 50ms")
	assert.Equal(t, 25*time.Millisecond, cfg.Scheduler.BatchBudget, "Batch budget should be 25ms")

	// 驗證 Cache / Worker 配置
	assert.Equal(t, 64, cfg.Cache.EntryLimit, "Entry limit should be 64")
	assert.Equal(t, 4, cfg.Worker.Count, "Worker count should be 4")
	assert.Equal(t, 32, cfg.Worker.Buffer, "Worker buffer should be 32")

	// 驗證 Metrics 配置
	assert.True(t, cfg.Metrics.Enabled, "Metrics should be enabled")
	assert.Equal(t, 8080, cfg.Metrics.Port, "Metrics port should be 8080")
	assert.Equal(t, 30, cfg.Metrics.HistoryLimit, "History limit should be 30")
	assert.Equal(t, 10*time.Second, cfg.Metrics.SnapshotInterval, "Snapshot interval should be 10s")

	// 驗證 Thresholds 配置
	assert.Equal(t, 100.0, cfg.Thresholds.MaxAvgTimeMs, "Max avg time should be 100")
	assert.Equal(t, 0.05, cfg.Thresholds.MaxErrorRate, "Max error rate should be 0.05")
	assert.Equal(t, 0.5, cfg.Thresholds.MinCacheHitRate, "Min hit rate should be 0.5")
	assert.Equal(t, uint64(104857600), cfg.Thresholds.MaxMemoryBytes, "Max memory should be 100MB")
	assert.Equal(t, 50.0, cfg.Thresholds.MaxLagMs, "Max lag should be 50")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err, "loadConfig should return an error for nonexistent file")
	assert.Nil(t, cfg, "Config should be nil on error")
	assert.Contains(t, err.Error(), "failed to read config file", "Error should mention file reading failure")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
scheduler:
  max_queue_size: "not a number"
  invalid yaml structure
    broken indentation
`

	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err, "Failed to write invalid YAML file")

	cfg, err := loadConfig(configPath)

	assert.Error(t, err, "loadConfig should return an error for invalid YAML")
	assert.Nil(t, cfg, "Config should be nil on parse error")
	assert.Contains(t, err.Error(), "failed to parse config YAML", "Error should mention YAML parsing failure")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err, "Failed to write empty file")

	// 空文件應該能解析，但會有零值
	cfg, err := loadConfig(configPath)
	assert.NoError(t, err, "Empty YAML file should parse without error")
	assert.NotNil(t, cfg, "Config should not be nil for empty file")
	assert.Equal(t, 0, cfg.Scheduler.MaxQueueSize, "Empty config should have zero values")
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	partialConfig := `
worker:
  count: 2
`

	err := os.WriteFile(configPath, []byte(partialConfig), 0644)
	require.NoError(t, err, "Failed to write partial config")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "Partial config should parse successfully")
	assert.Equal(t, 2, cfg.Worker.Count, "Worker count should be set")
	assert.Zero(t, cfg.Cache.EntryLimit, "Unset fields should have zero values")
}

func TestSubmitTasks_InvalidFile(t *testing.T) {
	err := submitTasks("/nonexistent/tasks.json")

	assert.Error(t, err, "submitTasks should return error for nonexistent file")
	assert.Contains(t, err.Error(), "failed to read task file", "Error should mention file reading failure")
}

func TestSubmitTasks_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	taskFile := filepath.Join(tmpDir, "invalid.json")

	invalidJSON := `{"invalid json structure`

	err := os.WriteFile(taskFile, []byte(invalidJSON), 0644)
	require.NoError(t, err, "Failed to write invalid JSON")

	err = submitTasks(taskFile)

	assert.Error(t, err, "submitTasks should return error for invalid JSON")
	assert.Contains(t, err.Error(), "failed to parse task file", "Error should mention JSON parsing failure")
}

func TestConfigStructure(t *testing.T) {
	cfg := Config{}

	// 檢查嵌套結構是否可訪問
	cfg.Scheduler.MaxQueueSize = 512
	cfg.Scheduler.TickInterval = 50 * time.Millisecond
	cfg.Cache.EntryLimit = 100
	cfg.Worker.Count = 4
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	cfg.Thresholds.MaxAvgTimeMs = 200

	assert.Equal(t, 512, cfg.Scheduler.MaxQueueSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 100, cfg.Cache.EntryLimit)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 200.0, cfg.Thresholds.MaxAvgTimeMs)
}
