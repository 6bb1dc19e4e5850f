// chatflow 命令行入口。
//
// 子命令:
//
//	converse  -topic "..." -providers openai:gpt-4o,claude  两个及以上参与者轮流对话
//	groupchat -topic "..." -providers ...                   群聊模式，随机不连说调度
//	continue  -file conversation.json -turns 4              从存档续写对话
//	serve     -addr :8080 -providers ...                    WebSocket 聊天室服务
//	list                                                    列出 SQLite 存储中的对话
//	health                                                  探测各 provider 可用性
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/conversation/archive"
	"github.com/BaSui01/chatflow/internal/metrics"
	"github.com/BaSui01/chatflow/llm/factory"
	"github.com/BaSui01/chatflow/responder"
	"github.com/BaSui01/chatflow/room"
	"go.uber.org/zap"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "converse":
		err = runConverse(os.Args[2:])
	case "groupchat":
		err = runGroupChat(os.Args[2:])
	case "continue":
		err = runContinue(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	case "version":
		fmt.Println("chatflow", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatflow:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: chatflow <command> [flags]

Commands:
  converse   run a conversation between two or more AI participants
  groupchat  run a group chat with random no-repeat scheduling
  continue   resume a saved conversation with additional turns
  serve      expose a conversation as a WebSocket chat room
  list       list conversations stored in the local database
  health     check that the configured providers are reachable
  version    print the version

Run "chatflow <command> -h" for command flags.
`)
}

// setup 加载配置并构建日志器，所有子命令共用。
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// providerOptions 将 provider key 映射到配置中对应的凭据与默认模型。
func providerOptions(cfg *config.Config, key, model string) (factory.Options, error) {
	var opts factory.Options
	switch strings.ToLower(key) {
	case "openai":
		opts = factory.Options{APIKey: cfg.Providers.OpenAI.APIKey, BaseURL: cfg.Providers.OpenAI.BaseURL, Model: cfg.Providers.OpenAI.Model}
	case "claude":
		opts = factory.Options{APIKey: cfg.Providers.Claude.APIKey, BaseURL: cfg.Providers.Claude.BaseURL, Model: cfg.Providers.Claude.Model}
	case "gemini":
		opts = factory.Options{APIKey: cfg.Providers.Gemini.APIKey, BaseURL: cfg.Providers.Gemini.BaseURL, Model: cfg.Providers.Gemini.Model}
	default:
		return opts, fmt.Errorf("unknown provider %q (known: %s)", key, strings.Join(factory.Known(), ", "))
	}
	if model != "" {
		opts.Model = model
	}
	if opts.Model == "" {
		return opts, fmt.Errorf("provider %s has no model: pass %s:<model> or set providers.%s.model", key, key, key)
	}
	if opts.APIKey == "" {
		return opts, fmt.Errorf("provider %s has no API key configured", key)
	}
	return opts, nil
}

// buildOrchestrator 根据 provider 规格列表组装编排器。collector 由调用方创建，
// 每个进程只注册一次，避免 promauto 重复注册。
func buildOrchestrator(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, specs []string, extra ...conversation.Option) (*conversation.Orchestrator, error) {
	opts := []conversation.Option{
		conversation.WithStatsSink(collector),
	}
	if cfg.Responder.Enabled {
		retriever := responder.NewKeywordRetriever(cfg.Responder.Documents)
		opts = append(opts, conversation.WithResponder(
			responder.NewKnowledgeResponder(cfg.Responder.Name, retriever, logger),
		))
	}
	opts = append(opts, extra...)

	orch := conversation.NewOrchestrator(cfg.Conversation, logger, opts...)
	for _, spec := range specs {
		key, model, err := factory.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		factoryOpts, err := providerOptions(cfg, key, model)
		if err != nil {
			return nil, err
		}
		provider, err := factory.New(key, factoryOpts, logger)
		if err != nil {
			return nil, err
		}
		orch.AddParticipant(conversation.NewProviderAdapter(provider, factoryOpts.Model))
	}
	return orch, nil
}

func splitSpecs(list string) []string {
	parts := strings.Split(list, ",")
	specs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			specs = append(specs, p)
		}
	}
	return specs
}

// finishRun 打印转录、按需写入 JSON 存档与 SQLite 存储。
func finishRun(cfg *config.Config, logger *zap.Logger, orch *conversation.Orchestrator, result *conversation.Result, mode, savePath string) error {
	printHistory(orch)
	fmt.Printf("\n[%s] %s after %d turns\n", result.State, result.TerminationReason, result.TurnCount)

	if savePath != "" {
		if err := archive.FromOrchestrator(orch, mode).Save(savePath); err != nil {
			return err
		}
		fmt.Printf("saved to %s\n", savePath)
	}
	if cfg.Store.Path != "" {
		store, err := archive.NewStore(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		if err := store.SaveRun(orch, result, mode); err != nil {
			return err
		}
	}
	return nil
}

func printHistory(orch *conversation.Orchestrator) {
	for _, entry := range orch.History() {
		fmt.Printf("%s: %s\n\n", entry.From, entry.Content)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runConverse(args []string) error {
	fs := flag.NewFlagSet("converse", flag.ExitOnError)
	topic := fs.String("topic", "", "opening message that seeds the conversation (required)")
	providers := fs.String("providers", "openai,claude", "comma-separated provider specs, e.g. openai:gpt-4o,claude")
	turns := fs.Int("turns", 0, "max assistant turns (0 = config default)")
	save := fs.String("save", "", "write the finished conversation to this JSON file")
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	if *topic == "" {
		return fmt.Errorf("converse: -topic is required")
	}
	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if *turns > 0 {
		cfg.Conversation.MaxTurns = *turns
	}

	orch, err := buildOrchestrator(cfg, logger, metrics.NewCollector("chatflow", nil, logger), splitSpecs(*providers))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	result, err := orch.Start(ctx, *topic)
	if err != nil {
		return err
	}
	return finishRun(cfg, logger, orch, result, archive.ModeConversation, *save)
}

func runGroupChat(args []string) error {
	fs := flag.NewFlagSet("groupchat", flag.ExitOnError)
	topic := fs.String("topic", "", "opening message that seeds the group chat (required)")
	providers := fs.String("providers", "openai,claude,gemini", "comma-separated provider specs")
	turns := fs.Int("turns", 0, "max assistant turns (0 = config default)")
	seed := fs.Int64("seed", 0, "random seed for the scheduler (0 = time-based)")
	save := fs.String("save", "", "write the finished conversation to this JSON file")
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	if *topic == "" {
		return fmt.Errorf("groupchat: -topic is required")
	}
	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if *turns > 0 {
		cfg.Conversation.MaxTurns = *turns
	}

	var rng *rand.Rand
	if *seed != 0 {
		rng = rand.New(rand.NewSource(*seed))
	}
	scheduler := conversation.NewRandomScheduler(rng)
	orch, err := buildOrchestrator(cfg, logger, metrics.NewCollector("chatflow", nil, logger), splitSpecs(*providers), conversation.WithScheduler(scheduler))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	result, err := orch.StartGroup(ctx, *topic)
	if err != nil {
		return err
	}
	return finishRun(cfg, logger, orch, result, archive.ModeSinglePrompt, *save)
}

func runContinue(args []string) error {
	fs := flag.NewFlagSet("continue", flag.ExitOnError)
	file := fs.String("file", "conversation.json", "conversation archive to resume")
	turns := fs.Int("turns", 4, "additional assistant turns to run")
	providers := fs.String("providers", "", "override participant specs (default: rebuild from the archive)")
	save := fs.String("save", "", "write the extended conversation to this file (default: overwrite -file)")
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	arch, err := archive.Load(*file)
	if err != nil {
		return err
	}

	specs := splitSpecs(*providers)
	if len(specs) == 0 {
		for _, p := range arch.Metadata.Participants {
			specs = append(specs, p.Provider+":"+p.Model)
		}
	}
	if len(specs) == 0 {
		return fmt.Errorf("archive %s names no participants; pass -providers", *file)
	}

	orch, err := buildOrchestrator(cfg, logger, metrics.NewCollector("chatflow", nil, logger), specs)
	if err != nil {
		return err
	}
	if err := archive.Replay(arch, orch, logger); err != nil {
		return err
	}
	orch.SetMaxTurns(orch.TurnCount() + *turns)

	ctx, cancel := signalContext()
	defer cancel()
	result, err := orch.Continue(ctx)
	if err != nil {
		return err
	}

	out := *save
	if out == "" {
		out = *file
	}
	return finishRun(cfg, logger, orch, result, arch.Metadata.Mode, out)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default from config)")
	providers := fs.String("providers", "openai,claude", "comma-separated provider specs")
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if *addr != "" {
		cfg.Room.Addr = *addr
	}

	collector := metrics.NewCollector("chatflow", nil, logger)
	hub := room.NewHub(collector, logger)

	orch, err := buildOrchestrator(cfg, logger, collector, splitSpecs(*providers),
		conversation.WithTurnListener(room.TurnBroadcaster(hub)),
	)
	if err != nil {
		return err
	}

	srv := room.NewServer(room.Config{
		Addr:            cfg.Room.Addr,
		ReadTimeout:     cfg.Room.ReadTimeout,
		WriteTimeout:    cfg.Room.WriteTimeout,
		ShutdownTimeout: cfg.Room.ShutdownTimeout,
		MessageRate:     cfg.Room.MessageRate,
		MessageBurst:    cfg.Room.MessageBurst,
	}, orch, hub, logger)

	ctx, cancel := signalContext()
	defer cancel()
	return srv.Run(ctx)
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	providers := fs.String("providers", "openai,claude,gemini", "comma-separated provider specs to check")
	timeout := fs.Duration("timeout", 10*time.Second, "per-provider check timeout")
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var failed bool
	for _, spec := range splitSpecs(*providers) {
		key, model, err := factory.ParseSpec(spec)
		if err != nil {
			return err
		}
		opts, err := providerOptions(cfg, key, model)
		if err != nil {
			fmt.Printf("%-8s skipped: %v\n", key, err)
			continue
		}
		provider, err := factory.New(key, opts, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		status, err := provider.HealthCheck(ctx)
		cancel()
		if err != nil {
			failed = true
			fmt.Printf("%-8s unhealthy: %v\n", key, err)
			continue
		}
		fmt.Printf("%-8s ok (%s)\n", key, status.Latency.Round(time.Millisecond))
	}
	if failed {
		return fmt.Errorf("one or more providers are unhealthy")
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to chatflow.yaml")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.Store.Path == "" {
		return fmt.Errorf("no transcript store configured (set store.path or CHATFLOW_STORE_PATH)")
	}

	store, err := archive.NewStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no stored conversations")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %-10s %-10s turns=%-3d %s\n", r.ConversationID, r.Mode, r.State, r.TurnCount, r.Topic)
	}
	return nil
}
