package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Merlins-Owl/Method-VI-sub002/core/compliance"
	"github.com/Merlins-Owl/Method-VI-sub002/core/gateconfig"
	"github.com/Merlins-Owl/Method-VI-sub002/core/governance"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
	"github.com/Merlins-Owl/Method-VI-sub002/core/store"
	"github.com/Merlins-Owl/Method-VI-sub002/internal/logging"
)

// Server exposes the governance core over MCP so an authoring agent can
// detect mode, resolve thresholds, submit metric results, acknowledge
// callouts, and ask whether the run may advance.
type Server struct {
	MCPServer *sdkmcp.Server

	config gateconfig.Config
	store  *store.Store

	mu       sync.Mutex
	contexts map[string]*governance.Context
	log      *slog.Logger
}

// NewServer creates a governance MCP server with all tools registered. The
// store is optional; without one, state lives only in memory.
func NewServer(config gateconfig.Config, governanceStore *store.Store) *Server {
	server := &Server{
		MCPServer: sdkmcp.NewServer(
			&sdkmcp.Implementation{Name: "methodvi", Version: "dev"},
			nil,
		),
		config:   config,
		store:    governanceStore,
		contexts: map[string]*governance.Context{},
		log:      logging.New("mcpserver"),
	}
	server.registerTools()
	return server
}

// Run serves MCP over the given transport until the context ends.
func (server *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	return server.MCPServer.Run(ctx, transport)
}

func (server *Server) registerTools() {
	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "start_run",
		Description: "Start a governed run. Returns the run ID to use with every other tool.",
	}, server.handleStartRun)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "detect_mode",
		Description: "Detect the run's maturity mode from the baseline coherence score. Runs exactly once per run.",
	}, server.handleDetectMode)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "resolve_threshold",
		Description: "Resolve a metric's effective threshold under the detected mode.",
	}, server.handleResolveThreshold)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "submit_metrics",
		Description: "Submit classified metric results for a step. Returns the generated callouts.",
	}, server.handleSubmitMetrics)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "acknowledge",
		Description: "Acknowledge one blocking callout by ID, or all pending ones at once.",
	}, server.handleAcknowledge)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "can_proceed",
		Description: "Ask whether the run may advance to the next step. Blocked verdicts name the pending callouts.",
	}, server.handleCanProceed)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "get_summary",
		Description: "Get the run's callout summary: totals by tier, pending acknowledgments, and the proceed flag.",
	}, server.handleGetSummary)

	sdkmcp.AddTool(server.MCPServer, &sdkmcp.Tool{
		Name:        "score_compliance",
		Description: "Score the run's process compliance from its persisted audit trail.",
	}, server.handleScoreCompliance)
}

func (server *Server) getContext(runID string) (*governance.Context, error) {
	server.mu.Lock()
	defer server.mu.Unlock()
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if governanceContext, exists := server.contexts[runID]; exists {
		return governanceContext, nil
	}
	if server.store != nil {
		rebuilt, err := server.store.Rebuild(runID, server.config)
		if err == nil {
			server.contexts[runID] = rebuilt
			return rebuilt, nil
		}
	}
	return nil, fmt.Errorf("run %s not found (call start_run first)", runID)
}

func (server *Server) persistCallouts(governanceContext *governance.Context) {
	if server.store == nil {
		return
	}
	if err := server.store.SaveCallouts(governanceContext.Callouts()); err != nil {
		server.log.Warn("failed to persist callouts", "run_id", governanceContext.RunID(), "error", err)
	}
}

// --- Tool input/output types ---

type startRunInput struct {
	RunID string `json:"run_id" jsonschema:"identifier for the new run"`
}

type startRunOutput struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type detectModeInput struct {
	RunID         string  `json:"run_id" jsonschema:"run ID from start_run"`
	BaselineScore float64 `json:"baseline_score" jsonschema:"baseline coherence score in [0,1]"`
}

type detectModeOutput struct {
	Mode          schemarun.Mode `json:"mode"`
	BaselineScore float64        `json:"baseline_score"`
	Confidence    float64        `json:"confidence"`
}

type resolveThresholdInput struct {
	RunID  string `json:"run_id" jsonschema:"run ID from start_run"`
	Metric string `json:"metric" jsonschema:"metric name from the gate config"`
}

type submitMetricsInput struct {
	RunID   string                    `json:"run_id" jsonschema:"run ID from start_run"`
	Step    int                       `json:"step" jsonschema:"workflow step the metrics were evaluated at (0-6)"`
	Results []schemarun.MetricResult  `json:"results" jsonschema:"classified metric results"`
}

type submitMetricsOutput struct {
	Callouts []schemarun.Callout `json:"callouts"`
}

type acknowledgeInput struct {
	RunID        string `json:"run_id" jsonschema:"run ID from start_run"`
	CalloutID    string `json:"callout_id,omitempty" jsonschema:"callout to acknowledge; omit with all=true to acknowledge everything pending"`
	All          bool   `json:"all,omitempty" jsonschema:"acknowledge every pending blocking callout"`
	Confirmation string `json:"confirmation" jsonschema:"reviewer confirmation text"`
}

type acknowledgeOutput struct {
	Acknowledged int  `json:"acknowledged"`
	CanProceed   bool `json:"can_proceed"`
}

type canProceedInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_run"`
}

type getSummaryInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_run"`
}

type scoreComplianceInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_run"`
}

// --- Tool handlers ---

func (server *Server) handleStartRun(_ context.Context, _ *sdkmcp.CallToolRequest, input startRunInput) (*sdkmcp.CallToolResult, startRunOutput, error) {
	server.mu.Lock()
	defer server.mu.Unlock()

	if input.RunID == "" {
		return nil, startRunOutput{}, fmt.Errorf("run_id is required")
	}
	if _, exists := server.contexts[input.RunID]; exists {
		return nil, startRunOutput{}, fmt.Errorf("run %s already exists", input.RunID)
	}
	if server.store != nil {
		if err := server.store.CreateRun(input.RunID, time.Now()); err != nil {
			return nil, startRunOutput{}, err
		}
	}
	server.contexts[input.RunID] = governance.NewContext(input.RunID, server.config)
	server.log.Info("run started", "run_id", input.RunID)
	return nil, startRunOutput{RunID: input.RunID, Status: "started"}, nil
}

func (server *Server) handleDetectMode(_ context.Context, _ *sdkmcp.CallToolRequest, input detectModeInput) (*sdkmcp.CallToolResult, detectModeOutput, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, detectModeOutput{}, err
	}
	detection, err := governanceContext.DetectMode(input.BaselineScore, time.Now())
	if err != nil {
		return nil, detectModeOutput{}, err
	}
	if server.store != nil {
		if err := server.store.SaveModeDetection(detection); err != nil {
			server.log.Warn("failed to persist detection", "run_id", input.RunID, "error", err)
		}
	}
	server.log.Info("mode detected", "run_id", input.RunID, "mode", detection.Mode, "confidence", detection.Confidence)
	return nil, detectModeOutput{
		Mode:          detection.Mode,
		BaselineScore: detection.BaselineScore,
		Confidence:    detection.Confidence,
	}, nil
}

func (server *Server) handleResolveThreshold(_ context.Context, _ *sdkmcp.CallToolRequest, input resolveThresholdInput) (*sdkmcp.CallToolResult, governance.Threshold, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, governance.Threshold{}, err
	}
	resolved, err := governanceContext.ResolveThreshold(input.Metric)
	if err != nil {
		return nil, governance.Threshold{}, err
	}
	return nil, resolved, nil
}

func (server *Server) handleSubmitMetrics(_ context.Context, _ *sdkmcp.CallToolRequest, input submitMetricsInput) (*sdkmcp.CallToolResult, submitMetricsOutput, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, submitMetricsOutput{}, err
	}
	if input.Step < schemarun.StepMin || input.Step > schemarun.StepMax {
		return nil, submitMetricsOutput{}, fmt.Errorf("step %d outside [%d,%d]", input.Step, schemarun.StepMin, schemarun.StepMax)
	}
	if len(input.Results) == 0 {
		return nil, submitMetricsOutput{}, fmt.Errorf("results are required")
	}
	generated := governanceContext.EvaluateMetrics(input.Results, input.Step)
	server.persistCallouts(governanceContext)
	return nil, submitMetricsOutput{Callouts: generated}, nil
}

func (server *Server) handleAcknowledge(_ context.Context, _ *sdkmcp.CallToolRequest, input acknowledgeInput) (*sdkmcp.CallToolResult, acknowledgeOutput, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, acknowledgeOutput{}, err
	}
	count := 0
	if input.All {
		count = governanceContext.AcknowledgeAll(input.Confirmation)
	} else {
		if input.CalloutID == "" {
			return nil, acknowledgeOutput{}, fmt.Errorf("callout_id is required unless all=true")
		}
		if _, err := governanceContext.Acknowledge(input.CalloutID, input.Confirmation); err != nil {
			return nil, acknowledgeOutput{}, err
		}
		count = 1
	}
	server.persistCallouts(governanceContext)
	return nil, acknowledgeOutput{
		Acknowledged: count,
		CanProceed:   governanceContext.CanProceed().Allowed,
	}, nil
}

func (server *Server) handleCanProceed(_ context.Context, _ *sdkmcp.CallToolRequest, input canProceedInput) (*sdkmcp.CallToolResult, governance.Decision, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, governance.Decision{}, err
	}
	return nil, governanceContext.CanProceed(), nil
}

func (server *Server) handleGetSummary(_ context.Context, _ *sdkmcp.CallToolRequest, input getSummaryInput) (*sdkmcp.CallToolResult, schemarun.CalloutSummary, error) {
	governanceContext, err := server.getContext(input.RunID)
	if err != nil {
		return nil, schemarun.CalloutSummary{}, err
	}
	return nil, governanceContext.Summary(), nil
}

func (server *Server) handleScoreCompliance(_ context.Context, _ *sdkmcp.CallToolRequest, input scoreComplianceInput) (*sdkmcp.CallToolResult, compliance.Result, error) {
	if server.store == nil {
		return nil, compliance.Result{}, fmt.Errorf("compliance scoring requires a persistent store")
	}
	trail, err := server.store.LoadTrail(input.RunID)
	if err != nil {
		return nil, compliance.Result{}, err
	}
	result, err := compliance.Score(trail)
	if err != nil {
		return nil, compliance.Result{}, err
	}
	return nil, result, nil
}
