package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "DocVault API",
        "description": "Document storage with chunked uploads, versioning and retention",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Uploads", "description": "Resumable chunked uploads"},
        {"name": "Documents", "description": "Document lifecycle and versions"},
        {"name": "Retention", "description": "Retention tags"},
        {"name": "Files", "description": "Signed downloads"}
    ],
    "paths": {
        "/uploads/initiate": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Open an upload session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InitiateUploadRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/chunk": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Upload one chunk",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "upload_id", "in": "formData", "required": true, "type": "string"},
                    {"name": "chunk_number", "in": "formData", "required": true, "type": "integer"},
                    {"name": "chunk", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "200": {"description": "Chunk stored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Session expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/complete": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Assemble the received chunks",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CompleteUploadRequest"}}
                ],
                "responses": {
                    "200": {"description": "Assembled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Chunks missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/cancel": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Cancel a session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelUploadRequest"}}
                ],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/status/{id}": {
            "get": {
                "tags": ["Uploads"],
                "summary": "Session progress",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents": {
            "get": {
                "tags": ["Documents"],
                "summary": "List documents of a team",
                "parameters": [
                    {"name": "team_id", "in": "query", "type": "string"},
                    {"name": "folder_id", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "include_deleted", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Documents"],
                "summary": "Create a document from a file or an assembled upload",
                "consumes": ["multipart/form-data", "application/json"],
                "parameters": [
                    {"name": "team_id", "in": "formData", "required": true, "type": "string"},
                    {"name": "name", "in": "formData", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "type": "file"},
                    {"name": "upload_path", "in": "formData", "type": "string"},
                    {"name": "retention_tag_id", "in": "formData", "type": "string"},
                    {"name": "storage_disk", "in": "formData", "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{id}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Get a document",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Documents"],
                "summary": "Update metadata or replace content",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Documents"],
                "summary": "Soft or permanent delete",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "permanent", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "Deleted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Retention active", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{id}/restore": {
            "post": {
                "tags": ["Documents"],
                "summary": "Restore a soft-deleted document",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/documents/{id}/versions": {
            "get": {
                "tags": ["Documents"],
                "summary": "Version history",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/documents/{id}/versions/export": {
            "get": {
                "tags": ["Documents"],
                "summary": "Export version history",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/documents/{id}/versions/{version}/restore": {
            "post": {
                "tags": ["Documents"],
                "summary": "Make an earlier version current",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "version", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/documents/{id}/download-url": {
            "get": {
                "tags": ["Documents"],
                "summary": "Issue a time-limited download URL",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/retention-tags": {
            "get": {
                "tags": ["Retention"],
                "summary": "List retention tags",
                "parameters": [{"name": "team_id", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Retention"],
                "summary": "Create a retention tag",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRetentionTagRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/files/download": {
            "get": {
                "tags": ["Files"],
                "summary": "Stream an object through a signed token",
                "security": [],
                "parameters": [{"name": "token", "in": "query", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "InitiateUploadRequest": {
            "type": "object",
            "required": ["filename", "total_chunks", "total_size", "team_id"],
            "properties": {
                "filename": {"type": "string"},
                "total_chunks": {"type": "integer"},
                "total_size": {"type": "integer"},
                "team_id": {"type": "string"},
                "mime_type": {"type": "string"}
            }
        },
        "CompleteUploadRequest": {
            "type": "object",
            "required": ["upload_id"],
            "properties": {
                "upload_id": {"type": "string"},
                "final_path": {"type": "string"}
            }
        },
        "CancelUploadRequest": {
            "type": "object",
            "required": ["upload_id"],
            "properties": {
                "upload_id": {"type": "string"}
            }
        },
        "CreateRetentionTagRequest": {
            "type": "object",
            "required": ["team_id", "name"],
            "properties": {
                "team_id": {"type": "string"},
                "name": {"type": "string"},
                "color": {"type": "string"},
                "retention_period_days": {"type": "integer"}
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
