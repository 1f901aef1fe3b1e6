package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Registrar API",
        "description": "Student registrar management API",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Auth", "description": "Authentication and session management"},
        {"name": "Users", "description": "Account administration"},
        {"name": "Students", "description": "Student registrar records"},
        {"name": "Catalog", "description": "Departments, courses, subjects, terms"},
        {"name": "Schedules", "description": "Class schedule slots"},
        {"name": "Applications", "description": "Enrollment application workflow"},
        {"name": "Enrollments", "description": "Finalized subject enrollments"},
        {"name": "Grades", "description": "Grade records and transcripts"},
        {"name": "Requests", "description": "Document requests and uploads"},
        {"name": "Notifications", "description": "User notification feed"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Expired or revoked token"}
                }
            }
        },
        "/register": {
            "post": {
                "tags": ["Users"],
                "summary": "Register a student account",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "security": [{"BearerAuth": []}],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment-applications": {
            "post": {
                "tags": ["Applications"],
                "security": [{"BearerAuth": []}],
                "summary": "Submit an enrollment application",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitApplicationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "An open application already exists for the term"}
                }
            },
            "get": {
                "tags": ["Applications"],
                "security": [{"BearerAuth": []}],
                "summary": "List applications",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment-applications/{id}/approve-payment": {
            "patch": {
                "tags": ["Applications"],
                "security": [{"BearerAuth": []}],
                "summary": "Approve payment and queue for registrar review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Application is not awaiting payment"}
                }
            }
        },
        "/enrollment-applications/{id}/review": {
            "patch": {
                "tags": ["Applications"],
                "security": [{"BearerAuth": []}],
                "summary": "Record the registrar's final decision",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewApplicationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Application is not awaiting review"}
                }
            }
        },
        "/requests": {
            "post": {
                "tags": ["Requests"],
                "security": [{"BearerAuth": []}],
                "summary": "File a document request with supporting uploads",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "request_type", "in": "formData", "required": true, "type": "string"},
                    {"name": "purpose", "in": "formData", "required": true, "type": "string"},
                    {"name": "documents", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Upload rejected by policy"}
                }
            }
        },
        "/notifications/unread-count": {
            "get": {
                "tags": ["Notifications"],
                "security": [{"BearerAuth": []}],
                "summary": "Count unread notifications",
                "responses": {
                    "200": {"description": "OK"}
                }
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
        "SubmitApplicationRequest": {
            "type": "object",
            "required": ["academic_year", "semester", "subject_codes"],
            "properties": {
                "academic_year": {"type": "string"},
                "semester": {"type": "string"},
                "subject_codes": {"type": "array", "items": {"type": "string"}}
            }
        },
        "ReviewApplicationRequest": {
            "type": "object",
            "properties": {
                "approve": {"type": "boolean"},
                "notes": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"}
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
