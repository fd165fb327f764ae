// ============================================================================
// Otter-Perf CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   otter-perf                     # Root command
//   ├── run                        # Start the performance governance core
//   │   └── --config, -c          # Specify config file
//   ├── submit                     # Submit tasks from a JSON file
//   │   └── --file, -f            # Specify task JSON file
//   ├── status                     # View configuration and runtime status
//   ├── --version                  # Display version information
//   └── --help                    # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - scheduler: queue size, tick interval, batch budget
//   - pool/cache: initial sizes and entry limits
//   - metrics: history retention, Prometheus export
//   - thresholds: alerting ceilings and floors
//
// run Command:
//   Starts the complete governance core, including:
//   1. Load config file
//   2. Create and start Controller
//   3. Start Metrics HTTP server (if enabled)
//   4. Print alerts as they arrive
//   5. Listen for system signals (SIGINT, SIGTERM) and shut down gracefully
//
//   Examples:
//     ./otter-perf run
//     ./otter-perf run -c custom-config.yaml
//
// submit Command:
//   Batch submit simulated tasks from a JSON file into a fresh core,
//   wait for completion and print per-kind statistics
//   JSON format:
//   [
//     {
//       "kind": "memory:store",
//       "priority": 5,
//       "work_ms": 3,
//       "fail": false
//     }
//   ]
//
//   Examples:
//     ./otter-perf submit -f tasks.json
//
// Signal Handling:
//   run command captures SIGINT (Ctrl+C) and SIGTERM, then:
//   1. Stops the observation loops
//   2. Drains the remaining queued tasks
//   3. Waits for offloaded computations to finish
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Default port: 9090
//   - Path: /metrics
//   - Format: Prometheus format
//
// ============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/otter-perf/internal/controller"
	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		MaxQueueSize int           `yaml:"max_queue_size"`
		TickInterval time.Duration `yaml:"tick_interval"`
		BatchBudget  time.Duration `yaml:"batch_budget"`
	} `yaml:"scheduler"`

	Cache struct {
		EntryLimit int `yaml:"entry_limit"`
	} `yaml:"cache"`

	Worker struct {
		Count  int `yaml:"count"`
		Buffer int `yaml:"buffer"`
	} `yaml:"worker"`

	Metrics struct {
		Enabled          bool          `yaml:"enabled"`
		Port             int           `yaml:"port"`
		HistoryLimit     int           `yaml:"history_limit"`
		SampleInterval   time.Duration `yaml:"sample_interval"`
		ProbeInterval    time.Duration `yaml:"probe_interval"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	} `yaml:"metrics"`

	Thresholds types.Thresholds `yaml:"thresholds"`
}

var (
	configFile string
	globalCtrl *controller.Controller
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "otter-perf",
		Short: "Otter-Perf: A cooperative performance governance core",
		Long: `Otter-Perf is a performance governance subsystem with:
- Bounded priority task scheduling
- Reusable object pools and memoization caches
- Metrics snapshots with threshold alerting
- Trend analysis over historical snapshots`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the performance governance core",
		Long:  "Start the scheduler, observation loops and alert stream, then wait for a shutdown signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
	return cmd
}

// controllerConfig 把 YAML 配置轉為 Controller 配置
func controllerConfig(cfg *Config) controller.Config {
	return controller.Config{
		MaxQueueSize:     cfg.Scheduler.MaxQueueSize,
		TickInterval:     cfg.Scheduler.TickInterval,
		BatchBudget:      cfg.Scheduler.BatchBudget,
		CacheEntryLimit:  cfg.Cache.EntryLimit,
		HistoryLimit:     cfg.Metrics.HistoryLimit,
		WorkerCount:      cfg.Worker.Count,
		WorkerBuffer:     cfg.Worker.Buffer,
		SampleInterval:   cfg.Metrics.SampleInterval,
		ProbeInterval:    cfg.Metrics.ProbeInterval,
		SnapshotInterval: cfg.Metrics.SnapshotInterval,
		Thresholds:       cfg.Thresholds,
	}
}

func runSystem() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Starting Otter-Perf with config: %s\n", configFile)
	log.Printf("Workers: %d, Queue: %d, Snapshot every %s\n",
		cfg.Worker.Count, cfg.Scheduler.MaxQueueSize, cfg.Metrics.SnapshotInterval)

	ctrlConfig := controllerConfig(cfg)
	if cfg.Metrics.Enabled {
		ctrlConfig.Registry = prometheus.DefaultRegisterer
	}

	ctrl, err := controller.NewController(ctrlConfig)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	globalCtrl = ctrl

	// Start Metrics
	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Printf("Starting metrics server on %s\n", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	// 把警報串流印到標準輸出
	alerts := ctrl.Alerts(32)
	go func() {
		for alert := range alerts {
			log.Printf("[%s] %s: %s\n", alert.Severity, alert.Type, alert.Message)
		}
	}()

	log.Println("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("\nReceived shutdown signal, stopping gracefully...")

	ctrl.Stop()

	log.Println("System stopped. Goodbye!")
	return nil
}

func buildSubmitCommand() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit tasks from a JSON file",
		Long:  "Read simulated task definitions from a JSON file, run them through the scheduler and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskFile == "" {
				return fmt.Errorf("task file is required (use --file or -f)")
			}
			return submitTasks(taskFile)
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "JSON file containing task definitions")
	cmd.MarkFlagRequired("file")

	return cmd
}

// taskInput 任務 JSON 檔案的單筆定義
type taskInput struct {
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	WorkMs   int    `json:"work_ms"`
	Fail     bool   `json:"fail"`
}

func submitTasks(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read task file: %w", err)
	}

	var tasksInput []taskInput
	if err := json.Unmarshal(data, &tasksInput); err != nil {
		return fmt.Errorf("failed to parse task file: %w", err)
	}

	if globalCtrl == nil {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctrl, err := controller.NewController(controllerConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to create controller: %w", err)
		}
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("failed to start controller: %w", err)
		}
		globalCtrl = ctrl
		defer ctrl.Stop()
	}

	log.Printf("Submitting %d tasks from %s\n", len(tasksInput), filePath)

	// Done 回呼在執行與淘汰兩種出路上都會觸發，等待不會懸掛
	var wg sync.WaitGroup
	for _, in := range tasksInput {
		in := in
		wg.Add(1)
		err := globalCtrl.Scheduler().SubmitTask(&types.Task{
			Kind:     types.TaskKind(in.Kind),
			Priority: types.Priority(in.Priority),
			Handler: func(any) error {
				if in.WorkMs > 0 {
					time.Sleep(time.Duration(in.WorkMs) * time.Millisecond)
				}
				if in.Fail {
					return fmt.Errorf("task configured to fail")
				}
				return nil
			},
			Done: func(types.Outcome) { wg.Done() },
		})
		if err != nil {
			wg.Done()
			log.Printf("Failed to submit %s task: %v\n", in.Kind, err)
		}
	}
	wg.Wait()

	snap := globalCtrl.GetMetrics()
	for operation, stats := range snap.Operations["scheduler"] {
		log.Printf("  %-20s count=%d avg=%.2fms errors=%d\n",
			operation, stats.Count, stats.AvgTime, stats.ErrorCount)
	}

	log.Printf("Successfully processed %d tasks\n", len(tasksInput))
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display scheduler statistics and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Otter-Perf System Status                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// System Configuration
	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:     %s\n", configFile)
	fmt.Printf("  └─ Max Queue Size:  %d\n", cfg.Scheduler.MaxQueueSize)
	fmt.Printf("  └─ Tick Interval:   %s\n", cfg.Scheduler.TickInterval)
	fmt.Printf("  └─ Worker Count:    %d\n", cfg.Worker.Count)
	fmt.Println()

	// Thresholds
	fmt.Println("🚦 Thresholds:")
	fmt.Printf("  ├─ Max Avg Time:     %.1f ms\n", cfg.Thresholds.MaxAvgTimeMs)
	fmt.Printf("  ├─ Max Error Rate:   %.1f%%\n", cfg.Thresholds.MaxErrorRate*100)
	fmt.Printf("  ├─ Min Hit Rate:     %.1f%%\n", cfg.Thresholds.MinCacheHitRate*100)
	fmt.Printf("  ├─ Max Memory:       %.1f MB\n", float64(cfg.Thresholds.MaxMemoryBytes)/(1024*1024))
	fmt.Printf("  └─ Max Lag:          %.1f ms\n", cfg.Thresholds.MaxLagMs)
	fmt.Println()

	// Scheduler Statistics (if controller is running)
	if globalCtrl != nil {
		status := globalCtrl.GetStatus()

		fmt.Println("📊 Scheduler Statistics:")
		fmt.Printf("  ├─ State:          %v\n", status["state"])
		fmt.Printf("  ├─ ⏳ Queued:       %v\n", status["queued"])
		fmt.Printf("  ├─ ✅ Executed:     %v\n", status["executed"])
		fmt.Printf("  ├─ ❌ Dropped:      %v\n", status["dropped"])
		fmt.Printf("  └─ 🚫 Rejected:     %v\n", status["rejected"])
		fmt.Println()
	} else {
		fmt.Println("📊 Scheduler Statistics:")
		fmt.Println("  └─ Core not running (run 'otter-perf run' to start)")
		fmt.Println()
	}

	// Metrics Status
	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
