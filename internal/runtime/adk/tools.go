package adk

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"agui-bridge/internal/proxytool"
)

// proxyTools exposes every client tool of the run as an ADK function tool.
func proxyTools(set *proxytool.Toolset) ([]tool.Tool, error) {
	if set == nil {
		return nil, nil
	}
	defs := set.Definitions()
	tools := make([]tool.Tool, 0, len(defs))
	for _, def := range defs {
		p, ok := set.Proxy(def.Name)
		if !ok {
			continue
		}
		t, err := newProxyTool(p)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func newProxyTool(p *proxytool.Proxy) (tool.Tool, error) {
	def := p.Definition()
	schema, err := inputSchema(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema of tool %q: %w", def.Name, err)
	}
	handler := func(ctx tool.Context, args map[string]any) (map[string]any, error) {
		result, err := p.Call(ctx, ctx.FunctionCallID(), args)
		if err != nil {
			return nil, err
		}
		return resultMap(result), nil
	}
	t, err := functiontool.New(functiontool.Config{
		Name:          def.Name,
		Description:   def.Description,
		InputSchema:   schema,
		IsLongRunning: p.LongRunning(),
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool %q: %w", def.Name, err)
	}
	return t, nil
}

// inputSchema converts a JSON-Schema object from the run input.
func inputSchema(params map[string]any) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Type == "" && len(s.Types) == 0 {
		s.Type = "object"
	}
	return &s, nil
}

// resultMap shapes a client result as the object a function response needs.
func resultMap(v any) map[string]any {
	switch r := v.(type) {
	case map[string]any:
		return r
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"result": r}
	}
}

type timeArgs struct {
	Timezone string `json:"timezone" jsonschema:"IANA time zone name such as Europe/Paris"`
}

type timeResult struct {
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
}

// NewTimeTool returns a backend tool that tells the current time in a zone.
func NewTimeTool() (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "get_current_time",
		Description: "Returns the current time in the given IANA time zone.",
	}, func(_ tool.Context, args timeArgs) (timeResult, error) {
		return currentTime(args.Timezone, time.Now())
	})
}

func currentTime(zone string, now time.Time) (timeResult, error) {
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return timeResult{}, fmt.Errorf("unknown time zone %q: %w", zone, err)
	}
	return timeResult{Timezone: zone, Time: now.In(loc).Format(time.RFC3339)}, nil
}
