// Package docs registers the OpenAPI document served at /docs.
// Regenerate with: swag init -g cmd/api/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "Momentum"},
        "license": {"name": "MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events": {
            "post": {
                "tags": ["events"],
                "summary": "Ingest engagement event",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"name": "event", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.EventRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.EvaluationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/momentum/{userID}": {
            "get": {
                "tags": ["momentum"],
                "summary": "Get momentum",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "userID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.MomentumResponse"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/momentum/{userID}/recompute": {
            "post": {
                "tags": ["momentum"],
                "summary": "Recompute momentum",
                "description": "Recomputes and stores the score for the given day (default today) without evaluating rules. Days before yesterday are closed and their stored score is returned unchanged.",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "userID", "in": "path", "required": true},
                    {"type": "string", "description": "Day (YYYY-MM-DD)", "name": "date", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.ScoreResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/rules": {
            "get": {
                "tags": ["interventions"],
                "summary": "List intervention rules",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.RuleResponse"}}}}
            }
        },
        "/rules/{ruleID}": {
            "get": {
                "tags": ["interventions"],
                "summary": "Get intervention rule",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "ruleID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RuleResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/interventions/{userID}": {
            "get": {
                "tags": ["interventions"],
                "summary": "List intervention records",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "userID", "in": "path", "required": true},
                    {"type": "integer", "default": 7, "name": "days", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.RecordResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/interventions/{userID}/evaluate": {
            "post": {
                "tags": ["interventions"],
                "summary": "Evaluate interventions",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "userID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.EvaluationResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/handler.EvaluationResponse"}}
                }
            }
        },
        "/preferences/{userID}": {
            "get": {
                "tags": ["preferences"],
                "summary": "Get preference",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "userID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.PreferenceResponse"}}}
            },
            "put": {
                "tags": ["preferences"],
                "summary": "Set preference",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "userID", "in": "path", "required": true},
                    {"name": "preference", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.PreferenceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.PreferenceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/deeplinks": {
            "post": {
                "tags": ["deeplinks"],
                "summary": "Route deep link",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"name": "action", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.DeepLinkRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RouteResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/deeplinks/{userID}/foreground": {
            "post": {
                "tags": ["deeplinks"],
                "summary": "App foregrounded",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "userID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RouteResponse"}}}
            }
        },
        "/deeplinks/actions/{actionID}": {
            "get": {
                "tags": ["deeplinks"],
                "summary": "Get deep-link action",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "actionID", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.ActionResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/feedback": {
            "post": {
                "tags": ["effectiveness"],
                "summary": "Record feedback",
                "consumes": ["application/json"],
                "parameters": [{"name": "feedback", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.FeedbackRequest"}}],
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/effectiveness/{testName}/{variantID}": {
            "get": {
                "tags": ["effectiveness"],
                "summary": "Variant effectiveness",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "testName", "in": "path", "required": true},
                    {"type": "string", "name": "variantID", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.EffectivenessResponse"}}}
            }
        },
        "/variants/{testName}/{userID}": {
            "get": {
                "tags": ["effectiveness"],
                "summary": "Variant assignment",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "testName", "in": "path", "required": true},
                    {"type": "string", "name": "userID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.VariantResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {"code": {"type": "string"}, "message": {"type": "string"}, "detail": {"type": "string"}}
                }
            }
        },
        "handler.EventRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "event_type": {"type": "string"},
                "timestamp": {"type": "string"},
                "weight": {"type": "number"}
            }
        },
        "handler.ScoreResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "date": {"type": "string"},
                "raw_score": {"type": "number"},
                "zone": {"type": "string"},
                "insufficient_history": {"type": "boolean"},
                "events_count": {"type": "integer"},
                "counted_by_type": {"type": "object", "additionalProperties": {"type": "integer"}},
                "decayed_sum": {"type": "number"},
                "smoothed_sum": {"type": "number"},
                "algorithm_version": {"type": "string"},
                "computed_at": {"type": "string"}
            }
        },
        "handler.MomentumResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "latest": {"$ref": "#/definitions/handler.ScoreResponse"},
                "history": {"type": "array", "items": {"$ref": "#/definitions/handler.ScoreResponse"}}
            }
        },
        "handler.DispatchResponse": {
            "type": "object",
            "properties": {
                "notification_id": {"type": "string"},
                "outcome": {"type": "string"},
                "test_name": {"type": "string"},
                "variant_id": {"type": "string"},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "action_type": {"type": "string"},
                "attempts": {"type": "integer"}
            }
        },
        "handler.RecordResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "rule_id": {"type": "string"},
                "fired_at": {"type": "string"},
                "notification_id": {"type": "string"},
                "outcome": {"type": "string"},
                "test_name": {"type": "string"},
                "variant_id": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "handler.EvaluationResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "score": {"$ref": "#/definitions/handler.ScoreResponse"},
                "states": {"type": "object", "additionalProperties": {"type": "string"}},
                "suppressed": {"type": "array", "items": {"$ref": "#/definitions/handler.RecordResponse"}},
                "deferred": {"type": "array", "items": {"type": "string"}},
                "dispatched": {"type": "array", "items": {"$ref": "#/definitions/handler.DispatchResponse"}},
                "rule_errors": {"type": "array", "items": {"type": "string"}},
                "dispatch_error": {"type": "string"}
            }
        },
        "handler.RuleResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "priority": {"type": "integer"},
                "cooldown_hours": {"type": "number"},
                "max_per_day": {"type": "integer"},
                "window_cap": {"type": "integer"},
                "window_hours": {"type": "number"},
                "lookback_days": {"type": "integer"},
                "requires_trend": {"type": "boolean"},
                "test_name": {"type": "string"}
            }
        },
        "handler.PreferenceRequest": {
            "type": "object",
            "properties": {
                "max_interventions_per_day": {"type": "integer"},
                "preferred_hours": {"type": "array", "items": {"type": "integer"}},
                "min_hours_between": {"type": "integer"},
                "auto_optimized": {"type": "boolean"}
            }
        },
        "handler.PreferenceResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "max_interventions_per_day": {"type": "integer"},
                "preferred_hours": {"type": "array", "items": {"type": "integer"}},
                "min_hours_between": {"type": "integer"},
                "auto_optimized": {"type": "boolean"},
                "updated_at": {"type": "string"}
            }
        },
        "handler.DeepLinkRequest": {
            "type": "object",
            "properties": {
                "action_id": {"type": "string"},
                "user_id": {"type": "string"},
                "action_type": {"type": "string"},
                "payload": {"type": "object"},
                "notification_id": {"type": "string"},
                "ui_context_available": {"type": "boolean"}
            }
        },
        "handler.ActionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "action_type": {"type": "string"},
                "payload": {"type": "object"},
                "notification_id": {"type": "string"},
                "state": {"type": "string"},
                "error": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handler.RouteResponse": {
            "type": "object",
            "properties": {
                "action": {"$ref": "#/definitions/handler.ActionResponse"},
                "executed": {"type": "boolean"},
                "deferred": {"type": "boolean"},
                "away_count": {"type": "integer"},
                "notice": {"type": "string"}
            }
        },
        "handler.FeedbackRequest": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "notification_id": {"type": "string"},
                "test_name": {"type": "string"},
                "variant_id": {"type": "string"},
                "event": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "handler.EffectivenessResponse": {
            "type": "object",
            "properties": {
                "test_name": {"type": "string"},
                "variant_id": {"type": "string"},
                "score": {"type": "number"},
                "sent": {"type": "integer"},
                "opened": {"type": "integer"},
                "clicked": {"type": "integer"},
                "ignored": {"type": "integer"},
                "window_days": {"type": "integer"}
            }
        },
        "handler.VariantResponse": {
            "type": "object",
            "properties": {
                "test_name": {"type": "string"},
                "user_id": {"type": "string"},
                "variant_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Momentum API",
	Description:      "Engagement momentum scoring, intervention rules, notification dispatch, deep-link routing and content effectiveness tracking.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
