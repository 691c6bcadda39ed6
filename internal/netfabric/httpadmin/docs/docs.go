// Package docs registers the static OpenAPI document for the admin API's
// Swagger UI. Hand-maintained in place of a swag-init-generated file, in
// step with the @-annotations in handler.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "netfabric Admin API",
        "description": "Read-only status and metrics endpoint for the netfabric TCP/UDP fabric and DNS resolver.",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "1.0"
    },
    "basePath": "/api/v1",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "description": "Returns a simple liveness status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/models.StatusResponse"}
                    }
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Fabric statistics",
                "description": "Returns host CPU/memory usage, fabric connection counters, and resolver upstream health",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/models.StatsResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "models.StatusResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"}
            }
        },
        "models.StatsResponse": {
            "type": "object",
            "properties": {
                "hostname": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "cpu": {"type": "object"},
                "memory": {"type": "object"},
                "fabric": {"type": "object"},
                "resolver": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger metadata, in the shape swag init
// normally generates.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "netfabric Admin API",
	Description:      "Read-only status and metrics endpoint for the netfabric TCP/UDP fabric and DNS resolver.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
