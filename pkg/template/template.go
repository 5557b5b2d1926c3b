// Package template renders handler parameters against the execution context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/vendelabs/fluxo/pkg/protocol"
)

// RenderWithRequest renders a template string against a dispatch request.
// Exposed data: .context, .subject, .execution.
func RenderWithRequest(input string, request protocol.DispatchRequest) (any, error) {
	data := map[string]any{
		"context": request.Context,
		"subject": map[string]any{
			"type": request.Subject.Type,
			"id":   request.Subject.ID,
		},
		"execution": map[string]any{
			"id":          request.ExecutionID,
			"workflow_id": request.WorkflowID,
			"node_id":     request.NodeID,
		},
	}

	return Render(input, data)
}

// RenderParameters renders every string value in the parameter map, walking
// nested maps and slices. Non-string values pass through untouched.
func RenderParameters(parameters map[string]any, request protocol.DispatchRequest) (map[string]any, error) {
	rendered, err := renderValue(parameters, request)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected parameter render result type %T", rendered)
	}

	return result, nil
}

func renderValue(value any, request protocol.DispatchRequest) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return RenderWithRequest(v, request)
	case map[string]any:
		rendered := make(map[string]any, len(v))

		for key, nested := range v {
			result, err := renderValue(nested, request)
			if err != nil {
				return nil, err
			}

			rendered[key] = result
		}

		return rendered, nil
	case []any:
		rendered := make([]any, len(v))

		for i, nested := range v {
			result, err := renderValue(nested, request)
			if err != nil {
				return nil, err
			}

			rendered[i] = result
		}

		return rendered, nil
	default:
		return v, nil
	}
}

// Render executes a Go text template and coerces the result: JSON-looking
// output is decoded, numeric and boolean output is typed, everything else
// stays a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString renders a template and stringifies the result.
func RenderString(input string, request protocol.DispatchRequest) (string, error) {
	rendered, err := RenderWithRequest(input, request)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}

		return string(encoded), nil
	}
}
