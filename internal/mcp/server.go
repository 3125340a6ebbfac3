package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"forma/backend/internal/auth"
	"forma/backend/internal/services"
	"forma/backend/pkg/models"
)

// Server exposes the core engine operations as MCP tools so agent clients
// can drive workflow transitions and wizard runs.
type Server struct {
	mcpServer *server.MCPServer
	batch     *services.BatchService
	wizards   *services.WizardService
}

// NewServer creates the MCP tool server over the given services.
func NewServer(batch *services.BatchService, wizards *services.WizardService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Forma Core",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		batch:   batch,
		wizards: wizards,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for mounting.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"apply_transition",
			mcp.WithDescription("Apply a workflow state transition to a data object"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("model_id", mcp.Required(), mcp.Description("The object's model id")),
			mcp.WithString("object_id", mcp.Required(), mcp.Description("The data object id")),
			mcp.WithString("to_state_id", mcp.Required(), mcp.Description("The target workflow state id")),
		),
		s.handleApplyTransition,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_wizard_run",
			mcp.WithDescription("Start a new run of a wizard"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("wizard_id", mcp.Required(), mcp.Description("The wizard to run")),
		),
		s.handleStartWizardRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_wizard_step",
			mcp.WithDescription("Submit the next step of a wizard run; the last step commits the whole run"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The wizard run id")),
			mcp.WithNumber("step_index", mcp.Required(), mcp.Description("Zero-based index of the step being submitted")),
			mcp.WithString("step_type", mcp.Required(), mcp.Description("Either create or lookup")),
			mcp.WithString("form_data", mcp.Description("JSON object of form values for a create step")),
			mcp.WithString("lookup_object_id", mcp.Description("Existing object id for a lookup step")),
		),
		s.handleSubmitWizardStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_wizard_run",
			mcp.WithDescription("Fetch the current state of a wizard run"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The wizard run id")),
		),
		s.handleGetWizardRun,
	)
}

func toolIdentity(args map[string]interface{}) (auth.Identity, bool) {
	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: userID, Scopes: []string{auth.ScopeRead, auth.ScopeWrite}}, true
}

func (s *Server) handleApplyTransition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	identity, ok := toolIdentity(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}

	modelID, _ := args["model_id"].(string)
	objectID, _ := args["object_id"].(string)
	toStateID, _ := args["to_state_id"].(string)
	if modelID == "" || objectID == "" || toStateID == "" {
		return mcp.NewToolResultError("model_id, object_id and to_state_id are required"), nil
	}

	result, err := s.batch.Apply(ctx, identity, &services.BatchUpdateRequest{
		ModelID:   modelID,
		ObjectIDs: []string{objectID},
		Property:  models.WorkflowStateProperty,
		Value:     toStateID,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to apply transition: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStartWizardRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	identity, ok := toolIdentity(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}

	wizardID, _ := args["wizard_id"].(string)
	if wizardID == "" {
		return mcp.NewToolResultError("Missing required parameter: wizard_id"), nil
	}

	run, err := s.wizards.StartRun(ctx, identity, wizardID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSubmitWizardStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	identity, ok := toolIdentity(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}

	runID, _ := args["run_id"].(string)
	stepIndexRaw, okIndex := args["step_index"].(float64)
	stepType, _ := args["step_type"].(string)
	if runID == "" || !okIndex || stepType == "" {
		return mcp.NewToolResultError("run_id, step_index and step_type are required"), nil
	}

	sub := models.StepSubmission{StepType: models.StepType(stepType)}
	if raw, ok := args["form_data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.FormData); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("form_data is not valid JSON: %v", err)), nil
		}
	}
	if id, ok := args["lookup_object_id"].(string); ok {
		sub.ObjectID = id
	}

	result, err := s.wizards.SubmitStep(ctx, identity, runID, int(stepIndexRaw), sub)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit step: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetWizardRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	identity, ok := toolIdentity(args)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}

	runID, _ := args["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	view, err := s.wizards.GetRun(ctx, identity, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(view)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers mounts the MCP endpoints on the given mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
