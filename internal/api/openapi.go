package api

import "strings"

// buildOpenAPIDoc describes the protected routes. Request and response
// bodies are left schemaless.
func buildOpenAPIDoc(routes []route) map[string]any {
	paths := map[string]any{}

	for _, rt := range routes {
		item, ok := paths[rt.pattern].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rt.pattern] = item
		}
		operation := map[string]any{
			"operationId": operationID(rt.method, rt.pattern),
			"summary":     rt.summary,
			"tags":        []string{tagFor(rt.pattern)},
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"401": map[string]any{"description": "Missing or invalid token"},
				"403": map[string]any{"description": "Insufficient scope"},
			},
			"security":   []any{map[string]any{"BearerAuth": []string{}}},
			"x-scopes":   rt.scopes,
			"parameters": pathParams(rt.pattern),
		}
		item[strings.ToLower(rt.method)] = operation
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Convoy Dispatcher",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operationID(method, pattern string) string {
	parts := []string{strings.ToLower(method)}
	for _, seg := range strings.Split(strings.Trim(pattern, "/"), "/") {
		parts = append(parts, strings.Trim(seg, "{}"))
	}
	return strings.Join(parts, "_")
}

func tagFor(pattern string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(pattern, "/"), "/")
	return seg
}

func pathParams(pattern string) []any {
	var out []any
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return out
}
