package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"care-talk/server/internal/actor"
	"care-talk/server/internal/config"
	"care-talk/server/internal/counterpart"
	"care-talk/server/internal/domain"
	"care-talk/server/internal/llm"
	"care-talk/server/internal/observe"
	"care-talk/server/internal/orchestrator"
	"care-talk/server/internal/practice"
	"care-talk/server/internal/session"
	"care-talk/server/internal/timeline"
)

// app 各子命令共用的组件
type app struct {
	cfg      *config.Config
	catalog  *domain.Catalog
	store    session.Store
	timeline timeline.Store
	manager  *orchestrator.Manager
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// setupLogging 按配置设置日志输出，返回需要关闭的文件
func setupLogging(cfg config.LoggingConfig) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	switch cfg.Output {
	case "", "stderr":
		log.SetOutput(os.Stderr)
		return nil, nil
	case "stdout":
		log.SetOutput(os.Stdout)
		gin.DefaultWriter = os.Stdout
		return nil, nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		gin.DefaultWriter = f
		gin.DefaultErrorWriter = f
		return f, nil
	}
}

// newGenerator scripted 模式直接用规则脚本，否则用 LLM 扮演对话对象
func newGenerator(cfg *config.Config) (counterpart.Generator, error) {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	if client == nil {
		log.Printf("[Wire] 📜 Using scripted counterpart")
		return counterpart.NewScriptedGenerator(), nil
	}

	engine, err := actor.NewActorEngine(cfg.Paths.Prompts)
	if err != nil {
		return nil, fmt.Errorf("init actor engine: %w", err)
	}
	log.Printf("[Wire] 🤖 Using %s counterpart", cfg.LLM.Provider)
	// 瞬时错误先在客户端内重试，仍失败才作为回复失败交给学习者
	client = llm.WithRetry(client, llm.DefaultRetryConfig())
	gen := counterpart.NewLLMGenerator(client, engine, cfg.Practice.MaxReplySentences)
	return counterpart.WithTimeout(gen, cfg.LLM.Timeout), nil
}

func loadCatalog(cfg *config.Config) (*domain.Catalog, error) {
	if cfg.Paths.Catalog == "" {
		return domain.DefaultCatalog(), nil
	}
	catalog, err := domain.LoadCatalog(cfg.Paths.Catalog)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return catalog, nil
}

// newApp 组装目录、存储、回复生成器与会话管理器
func newApp(cfg *config.Config, metrics *observe.Metrics, autoSpeak bool) (*app, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}

	var analyzer *practice.Analyzer
	if cfg.Practice.LanguageFeedback {
		analyzer = practice.NewAnalyzer()
	}

	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore()
	manager := orchestrator.NewManager(catalog, nil, orchestrator.Deps{
		Store:     store,
		Timeline:  tl,
		Generator: gen,
		Analyzer:  analyzer,
		Metrics:   metrics,
		AutoSpeak: autoSpeak,
	}, cfg.Session.MaxSessions)

	return &app{cfg: cfg, catalog: catalog, store: store, timeline: tl, manager: manager}, nil
}
