package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "School Transfer API",
        "description": "Cross-school student transfer workflow: proposal marketplace, negotiations and transfer offers.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Authentication", "description": "Tokens for school admins and students"},
        {"name": "Transfers", "description": "Proposal marketplace and negotiations"},
        {"name": "Admissions", "description": "School-owned admission records"},
        {"name": "Offers", "description": "Student answers to transfer offers"},
        {"name": "Events", "description": "Server-sent transfer events"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate refresh token",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Expired or revoked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "End the session of a refresh token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "204": {"description": "Session ended"},
                    "403": {"description": "Token belongs to another account", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transfers/proposals": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Publish a transfer proposal",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateProposalRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/proposals/market": {
            "get": {
                "tags": ["Transfers"],
                "summary": "List open proposals from other schools",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transfers/proposals/market/export": {
            "get": {
                "tags": ["Transfers"],
                "summary": "Download the open marketplace",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"], "default": "csv"}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        },
        "/transfers/proposals/mine": {
            "get": {
                "tags": ["Transfers"],
                "summary": "List proposals published by the caller's school",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transfers/proposals/{id}": {
            "get": {
                "tags": ["Transfers"],
                "summary": "Get a proposal",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/proposals/{id}/close": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Close a proposal",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the proposing school", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/proposals/{id}/negotiations": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Start or resume a negotiation",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Existing negotiation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "New negotiation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Own proposal", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Proposal closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/negotiations": {
            "get": {
                "tags": ["Transfers"],
                "summary": "List the caller's negotiations",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transfers/negotiations/{id}": {
            "get": {
                "tags": ["Transfers"],
                "summary": "Get a negotiation thread",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a party", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/negotiations/{id}/messages": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Post a message",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Empty message or non-party sender", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/negotiations/{id}/transcript": {
            "get": {
                "tags": ["Transfers"],
                "summary": "Download a negotiation transcript",
                "produces": ["application/pdf", "text/csv"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "csv"], "default": "pdf"}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        },
        "/admissions": {
            "get": {
                "tags": ["Admissions"],
                "summary": "List admission records owned by the caller's school",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admissions/{id}/review": {
            "post": {
                "tags": ["Admissions"],
                "summary": "Approve or reject an admission under review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewAdmissionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not under review", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admissions/{id}/transfer": {
            "post": {
                "tags": ["Admissions"],
                "summary": "Offer an admitted student to another school",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InitiateTransferRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Record or school not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/offers/pending": {
            "get": {
                "tags": ["Offers"],
                "summary": "Get the caller's pending offer to a school",
                "parameters": [{"name": "toSchoolId", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transfers/offers/{id}/respond": {
            "post": {
                "tags": ["Offers"],
                "summary": "Accept or reject a transfer offer",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondTransferRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already answered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/events": {
            "get": {
                "tags": ["Events"],
                "summary": "Subscribe to transfer events",
                "produces": ["text/event-stream"],
                "parameters": [{"name": "access_token", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "Event stream"}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RefreshTokenRequest": {
            "type": "object",
            "required": ["refresh_token"],
            "properties": {"refresh_token": {"type": "string"}}
        },
        "CreateProposalRequest": {
            "type": "object",
            "required": ["numberOfStudents", "gender", "grade"],
            "properties": {
                "numberOfStudents": {"type": "integer", "minimum": 1},
                "gender": {"type": "string", "enum": ["Male", "Female", "Mixed"]},
                "grade": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "AddMessageRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {"content": {"type": "string"}}
        },
        "ReviewAdmissionRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {"decision": {"type": "string", "enum": ["approve", "reject"]}}
        },
        "InitiateTransferRequest": {
            "type": "object",
            "required": ["toSchoolId"],
            "properties": {"toSchoolId": {"type": "string"}}
        },
        "RespondTransferRequest": {
            "type": "object",
            "required": ["fromSchoolId", "response"],
            "properties": {
                "fromSchoolId": {"type": "string"},
                "response": {"type": "string", "enum": ["accepted_by_student", "rejected_by_student"]}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
