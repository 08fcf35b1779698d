package deepmesh

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/deepmesh/config"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/model/anthropic"
	"github.com/hupe1980/deepmesh/model/openai"
	"github.com/hupe1980/deepmesh/subagent"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/mcp"
)

// Constructors resolved at assembly time; tests replace them to avoid
// fetching BPE files or writing to stderr.
var (
	newTokenCounter = func(encoding string) (middleware.TokenCounter, error) {
		return middleware.NewTiktokenCounter(encoding)
	}
	newZapLogger = logging.NewZapProductionLogger
)

// NewModel builds the backend described by mc, rate limited when
// RequestsPerMinute is set.
func NewModel(mc config.ModelConfig) (model.Model, error) {
	var m model.Model

	switch mc.Provider {
	case "anthropic":
		m = anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Model != "" {
				o.Model = anthropicsdk.Model(mc.Model)
			}
			o.APIKey = mc.APIKey
		})
	case "openai":
		m = openai.NewModel(func(o *openai.Options) {
			if mc.Model != "" {
				o.Model = mc.Model
			}
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
		})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", mc.Provider)
	}

	if mc.RequestsPerMinute > 0 {
		m = model.NewRateLimited(m, mc.RequestsPerMinute, 1)
	}
	return m, nil
}

// NewFromConfig assembles a DeepMesh from a loaded configuration. MCP
// servers listed in cfg are started and their tools registered; call Close
// to stop them. optFns run after the configuration has been applied.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (_ *DeepMesh, err error) {
	if cfg == nil {
		return nil, errors.New("deepmesh: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	llm, err := NewModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	models := make(map[string]model.Model, len(cfg.Models))
	for _, mc := range cfg.Models {
		if models[mc.Name], err = NewModel(mc); err != nil {
			return nil, fmt.Errorf("model %q: %w", mc.Name, err)
		}
	}

	specs := make([]subagent.Spec, 0, len(cfg.Subagents))
	for _, sc := range cfg.Subagents {
		specs = append(specs, subagent.PromptSpec{
			AgentName:        sc.Name,
			AgentDescription: sc.Description,
			Prompt:           sc.Prompt,
			Tools:            sc.Tools,
			ModelName:        sc.Model,
		})
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
		}
	}()

	var logger logging.Logger
	if cfg.Logging.Format == "zap" {
		zl, zerr := newZapLogger(logging.ParseLevel(cfg.Logging.Level))
		if zerr != nil {
			return nil, fmt.Errorf("logging: %w", zerr)
		}
		// Sync on a terminal stderr fails with ENOTTY; flushing is best effort.
		closers = append(closers, func() error { _ = zl.Sync(); return nil })
		logger = zl
	} else {
		logger = logging.NewLogger(&logging.LoggerConfig{
			Level:     logging.ParseLevel(cfg.Logging.Level),
			Format:    cfg.Logging.Format,
			Component: cfg.Name,
		})
	}

	var counter middleware.TokenCounter
	if cfg.TokenEncoding != "" {
		counter, err = newTokenCounter(cfg.TokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("token_encoding: %w", err)
		}
	}

	var mcpTools []tool.Tool
	for _, sc := range cfg.MCPServers {
		client, cerr := mcp.ConnectStdio(ctx, sc.Command, sc.Env, sc.Args...)
		if cerr != nil {
			return nil, cerr
		}
		closers = append(closers, client.Close)

		tools, lerr := mcp.LoadTools(ctx, sc.Name, client, func(o *mcp.Options) {
			if sc.Prefix != "" {
				o.Prefix = sc.Prefix
			}
			if d := sc.GetTimeout(); d > 0 {
				o.Timeout = d
			}
		})
		if lerr != nil {
			return nil, lerr
		}
		mcpTools = append(mcpTools, tools...)
		logger.Info("deepmesh.mcp.connected", "server", sc.Name, "tools", len(tools))
	}

	dm, err := New(llm, func(o *Options) {
		o.Name = cfg.Name
		o.SystemPrompt = cfg.SystemPrompt
		o.BuiltinTools = cfg.BuiltinTools
		o.Subagents = specs
		o.Models = models
		o.MaxIterations = cfg.MaxIterations
		o.MaxParallelTools = cfg.MaxParallelTools
		o.ToolTimeout = cfg.GetToolTimeout()
		if d := cfg.GetDispatchTimeout(); d > 0 {
			o.DispatchTimeout = d
		}
		o.MemoryPath = cfg.MemoryPath
		if cfg.EvictTokenLimit != nil {
			o.EvictTokenLimit = *cfg.EvictTokenLimit
		}
		if counter != nil {
			o.TokenCounter = counter
		}
		o.Stream = cfg.Stream
		o.Logger = logger
		o.Tools = append(o.Tools, mcpTools...)
		for _, fn := range optFns {
			fn(o)
		}
	})
	if err != nil {
		return nil, err
	}

	dm.closers = closers
	return dm, nil
}
