package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Academia Billing API",
        "description": "Enrollment billing and access lifecycle for gym tenants.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Billing", "description": "Billing cycle runs and forecasts"},
        {"name": "Payments", "description": "Payment confirmation"},
        {"name": "Enrollments", "description": "Access checks and due date administration"}
    ],
    "paths": {
        "/billing/upcoming": {
            "get": {
                "tags": ["Billing"],
                "summary": "List upcoming billing",
                "description": "Enrollments whose next due date falls between today and today + days.",
                "parameters": [
                    {"name": "days", "in": "query", "type": "integer", "default": 7, "minimum": 1, "maximum": 365},
                    {"name": "tenantId", "in": "query", "type": "string", "description": "Tenant (superadmin only)"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid horizon", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/billing/process": {
            "post": {
                "tags": ["Billing"],
                "summary": "Run processar-cobranca",
                "description": "Charges the current cycle of every billable enrollment and migrates lapsed trials.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ProcessBillingRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Another run holds the lock", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/billing/reconcile": {
            "post": {
                "tags": ["Billing"],
                "summary": "Reconcile enrollment statuses",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ReconcileRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{id}/confirm": {
            "post": {
                "tags": ["Payments"],
                "summary": "Confirm payment",
                "description": "Marks a pending or late payment as paid and renews the enrollment.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfirmPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Confirmed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Payment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Payment already settled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/access": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Check gym access",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Enrollment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/next-due-date": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Override next due date",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetNextDueDateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid date", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/billing-events": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List billing events",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer", "default": 100}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ProcessBillingRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "format": "date"},
                "dryRun": {"type": "boolean"},
                "limit": {"type": "integer", "minimum": 1}
            }
        },
        "ReconcileRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "format": "date"},
                "limit": {"type": "integer", "minimum": 1}
            }
        },
        "ConfirmPaymentRequest": {
            "type": "object",
            "required": ["paidAt"],
            "properties": {
                "paidAt": {"type": "string", "format": "date"},
                "paymentMethodId": {"type": "string"},
                "notes": {"type": "string", "maxLength": 500}
            }
        },
        "SetNextDueDateRequest": {
            "type": "object",
            "required": ["nextDueDate"],
            "properties": {
                "nextDueDate": {"type": "string", "format": "date"},
                "reason": {"type": "string", "maxLength": 255}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
