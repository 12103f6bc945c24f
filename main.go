package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/stampede-cache/stampede/internal/cache"
	"github.com/stampede-cache/stampede/internal/config"
	"github.com/stampede-cache/stampede/internal/logging"
	"github.com/stampede-cache/stampede/internal/metrics/prom"
	"github.com/stampede-cache/stampede/internal/server"
	"github.com/stampede-cache/stampede/internal/storage"
	"github.com/stampede-cache/stampede/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath     string
	checkOnly      bool
	showVersion    bool
	serve          bool
	inspectKey     string
	clearAll       bool
	clearNamespace string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["namespaces"] = len(cfg.Namespaces)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 所有子命令共享同一个文件存储实例，退出前释放句柄与锁。
	store, err := storage.NewFile(cfg.Global.StoragePath,
		storage.WithSuffix(cfg.Global.FileSuffix),
		storage.WithTempSuffix(cfg.Global.TempSuffix),
		storage.WithLogger(logging.Component(logger, "storage")),
	)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	switch {
	case opts.inspectKey != "":
		return inspectEntry(ctx, cfg, store, opts.inspectKey)
	case opts.clearAll:
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
			return 1
		}
		logger.WithFields(logging.BaseFields("clear", opts.configPath)).Info("缓存已清空")
		return 0
	case opts.clearNamespace != "":
		if err := store.ClearNamespace(ctx, opts.clearNamespace); err != nil {
			fmt.Fprintf(stdErr, "清空命名空间失败: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("clear_namespace", opts.configPath)
		fields["namespace"] = opts.clearNamespace
		logger.WithFields(fields).Info("命名空间已清空")
		return 0
	}

	if cfg.Global.ListenPort == 0 {
		fmt.Fprintln(stdErr, "ListenPort 为 0，诊断服务未启用；请指定 --inspect/--clear/--clear-namespace 或配置 ListenPort")
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	for k, v := range logging.StorageFields(store.Directory(), cfg.Global.FileSuffix, cfg.Global.TempSuffix) {
		fields[k] = v
	}
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func inspectEntry(ctx context.Context, cfg *config.Config, store storage.Storage, key string) int {
	itemOpts, err := cfg.EffectiveItemOptions(key)
	if err != nil {
		fmt.Fprintf(stdErr, "解析条目选项失败: %v\n", err)
		return 1
	}
	report, err := cache.Inspect(ctx, store, key, itemOpts)
	if err != nil {
		fmt.Fprintf(stdErr, "读取条目失败: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stdErr, "输出条目失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("stampede", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	var configFlag string

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 STAMPEDE_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.serve, "serve", false, "启动诊断 HTTP 服务（默认行为）")
	fs.StringVar(&opts.inspectKey, "inspect", "", "输出指定 key 的过期时间、年龄与锁状态")
	fs.BoolVar(&opts.clearAll, "clear", false, "清空存储目录下的所有条目")
	fs.StringVar(&opts.clearNamespace, "clear-namespace", "", "清空指定命名空间下的条目")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	actions := 0
	for _, set := range []bool{opts.serve, opts.inspectKey != "", opts.clearAll, opts.clearNamespace != ""} {
		if set {
			actions++
		}
	}
	if actions > 1 {
		return cliOptions{}, errors.New("--serve、--inspect、--clear、--clear-namespace 只能指定一个")
	}

	path := os.Getenv("STAMPEDE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path

	return opts, nil
}

// newMetricsRegistry 构建 /metrics 使用的 registry：Go/进程指标加上缓存条目指标。
// 诊断服务本身不调用 IsHit，条目指标由同进程内通过 cache.WithMetrics 接入的调用方驱动。
func newMetricsRegistry() (*prometheus.Registry, *prom.Adapter) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, prom.New(registry, "stampede", "item", nil)
}

func startHTTPServer(cfg *config.Config, store storage.Storage, logger *logrus.Logger) error {
	registry, _ := newMetricsRegistry()

	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Storage: store,
		Options: func(key string) (cache.Options, error) {
			if key == "" {
				return cfg.ItemOptions()
			}
			return cfg.EffectiveItemOptions(key)
		},
		Gatherer:    registry,
		ReadTimeout: cfg.Global.ReadTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown", "port": port}).Info("收到退出信号，关闭服务")
	return app.ShutdownWithTimeout(cfg.Global.ShutdownTimeout.DurationValue())
}
