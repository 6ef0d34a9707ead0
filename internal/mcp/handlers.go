package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/service"
)

// ScoreGeneticMarkersParams defines parameters for score_genetic_markers tool
type ScoreGeneticMarkersParams struct {
	Markers []string `json:"markers" jsonschema:"marker or column names to score"`
}

// ClassifyLesionParams defines parameters for classify_lesion tool
type ClassifyLesionParams struct {
	Probabilities map[string]float64 `json:"probabilities" jsonschema:"probability in [0,1] per lesion class code"`
}

// PredictConditionParams defines parameters for predict_condition tool
type PredictConditionParams struct {
	Age           int      `json:"age" jsonschema:"patient age in years"`
	BloodPressure *string  `json:"blood_pressure,omitempty" jsonschema:"systolic/diastolic, e.g. 120/80"`
	Temperature   *float64 `json:"temperature,omitempty" jsonschema:"body temperature in Fahrenheit"`
	HeartRate     *int     `json:"heart_rate,omitempty" jsonschema:"beats per minute"`
	OxygenLevel   *int     `json:"oxygen_level,omitempty" jsonschema:"oxygen saturation percentage"`
}

// handleScoreGeneticMarkers handles the score_genetic_markers tool invocation
func (s *Server) handleScoreGeneticMarkers(ctx context.Context, req *mcp.CallToolRequest, params ScoreGeneticMarkersParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolScoreGeneticMarkers).Info("Tool invoked")

	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	result, err := s.analysis.ScoreMarkers(ctx, params.Markers)
	if err != nil {
		return s.toolError(err)
	}
	return s.jsonResult(result)
}

// handleClassifyLesion handles the classify_lesion tool invocation
func (s *Server) handleClassifyLesion(ctx context.Context, req *mcp.CallToolRequest, params ClassifyLesionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyLesion).Info("Tool invoked")

	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	probs := make(map[domain.LesionClass]float64, len(params.Probabilities))
	for label, p := range params.Probabilities {
		probs[domain.LesionClass(label)] = p
	}

	result, err := s.analysis.ClassifyProbabilities(ctx, probs)
	if err != nil {
		return s.toolError(err)
	}
	return s.jsonResult(result)
}

// handlePredictCondition handles the predict_condition tool invocation
func (s *Server) handlePredictCondition(ctx context.Context, req *mcp.CallToolRequest, params PredictConditionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolPredictCondition).Info("Tool invoked")

	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	age := params.Age
	resp, err := s.analysis.PredictCondition(ctx, nil, service.ConditionRequest{
		Age: &age,
		Vitals: domain.VitalSigns{
			BloodPressure: params.BloodPressure,
			Temperature:   params.Temperature,
			HeartRate:     params.HeartRate,
			OxygenLevel:   params.OxygenLevel,
		},
	})
	if err != nil {
		return s.toolError(err)
	}
	return s.jsonResult(resp.Condition)
}

func (s *Server) jsonResult(result any) (*mcp.CallToolResult, any, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(body)},
		},
	}, result, nil
}

// toolError reports invalid input as a tool-level error the client can
// correct. Anything else fails the call.
func (s *Server) toolError(err error) (*mcp.CallToolResult, any, error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return createErrorResult("Invalid input", err), nil, nil
	}
	s.logger.WithError(err).Error("Tool call failed")
	return nil, nil, err
}

// createErrorResult creates a standardized error result for tool calls
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
