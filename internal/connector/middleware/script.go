package middleware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"

	"go.flowcatalyst.tech/internal/common/metrics"
	"go.flowcatalyst.tech/internal/connector"
)

// ScriptConfig configures the sandboxed script (UDF) middleware per
// spec.md §4.5 and §6's udf service table.
type ScriptConfig struct {
	ScriptPath      string
	OperationBudget int64         // SetMaxCallStackSize analogue; see caps below
	Timeout         time.Duration // per-call wall clock budget
}

func DefaultScriptConfig(scriptPath string) ScriptConfig {
	return ScriptConfig{
		ScriptPath:      scriptPath,
		OperationBudget: 1 << 20,
		Timeout:         2 * time.Second,
	}
}

// scriptCacheEntry is a compiled program, cached
// per (service, resource) so a job does not recompile the same script on
// every record.
type scriptCacheEntry struct {
	program *goja.Program
}

var (
	scriptCacheMu sync.Mutex
	scriptCache   = make(map[string]*scriptCacheEntry)
)

// Script is the UDF middleware: invokes a sandboxed script exposing
// transform(payload, attributes) -> {payload, attributes}. Rhai is named
// in spec.md as an example engine.kind, but no Rhai binding exists in this
// corpus; github.com/dop251/goja (a JS sandbox) is substituted — see
// DESIGN.md for the full justification of this conversion.
type Script struct {
	connectorID string
	cfg         ScriptConfig
	cacheKey    string
}

func NewScript(connectorID, service, resource string, cfg ScriptConfig) *Script {
	return &Script{
		connectorID: connectorID,
		cfg:         cfg,
		cacheKey:    service + "/" + resource,
	}
}

func (s *Script) compiled() (*goja.Program, error) {
	scriptCacheMu.Lock()
	defer scriptCacheMu.Unlock()

	if entry, ok := scriptCache[s.cacheKey]; ok {
		return entry.program, nil
	}

	src, err := os.ReadFile(filepath.Clean(s.cfg.ScriptPath))
	if err != nil {
		metrics.MiddlewareScriptErrors.WithLabelValues(s.connectorID, "compile").Inc()
		return nil, connector.InternalInvariant("middleware.script.compile", fmt.Errorf("read script %s: %w", s.cfg.ScriptPath, err))
	}

	program, err := goja.Compile(s.cfg.ScriptPath, string(src), false)
	if err != nil {
		metrics.MiddlewareScriptErrors.WithLabelValues(s.connectorID, "compile").Inc()
		return nil, connector.InternalInvariant("middleware.script.compile", fmt.Errorf("compile script %s: %w", s.cfg.ScriptPath, err))
	}

	scriptCache[s.cacheKey] = &scriptCacheEntry{program: program}
	return program, nil
}

func (s *Script) Transform(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	program, err := s.compiled()
	if err != nil {
		return nil, nil, err
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(int(s.cfg.OperationBudget))
	registerHelpers(vm)

	timer := time.AfterFunc(s.cfg.Timeout, func() {
		vm.Interrupt("operation budget exceeded")
	})
	defer timer.Stop()

	start := time.Now()
	defer func() {
		metrics.MiddlewareScriptDuration.WithLabelValues(s.connectorID).Observe(time.Since(start).Seconds())
	}()

	if _, err := vm.RunProgram(program); err != nil {
		metrics.MiddlewareScriptErrors.WithLabelValues(s.connectorID, "runtime").Inc()
		return nil, nil, connector.SinkPermanent("middleware.script.transform", fmt.Errorf("load script: %w", err))
	}

	transformFn, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, nil, connector.InternalInvariant("middleware.script.transform", fmt.Errorf("script %s does not define transform(payload, attributes)", s.cfg.ScriptPath))
	}

	payloadStr := vm.ToValue(string(payload))
	attrsObj := vm.ToValue(attributes)

	result, err := transformFn(goja.Undefined(), payloadStr, attrsObj)
	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			metrics.MiddlewareScriptErrors.WithLabelValues(s.connectorID, "timeout").Inc()
			return nil, nil, connector.Transient("middleware.script.transform", fmt.Errorf("script interrupted: %v", interrupted))
		}
		metrics.MiddlewareScriptErrors.WithLabelValues(s.connectorID, "runtime").Inc()
		return nil, nil, connector.SinkPermanent("middleware.script.transform", fmt.Errorf("script error: %w", err))
	}

	var out struct {
		Payload    string            `json:"payload"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := vm.ExportTo(result, &out); err != nil {
		return nil, nil, connector.SinkPermanent("middleware.script.transform", fmt.Errorf("script returned unexpected shape: %w", err))
	}

	newAttrs := out.Attributes
	if newAttrs == nil {
		newAttrs = attributes
	}
	return []byte(out.Payload), newAttrs, nil
}
