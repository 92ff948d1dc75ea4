package backend

import "approval-sync/internal/common/validation"

// Listings answer either {"data": [...]} or {"result": {"<plural>": [...]}}.
// Owner-scoped routes may return a single object under data.
var listingSchema = validation.MustCompile("listing", `{
  "type": "object",
  "properties": {
    "data": {
      "anyOf": [
        {"type": "array", "items": {"$ref": "#/definitions/entity"}},
        {"$ref": "#/definitions/entity"},
        {"type": "null"}
      ]
    },
    "result": {
      "anyOf": [
        {"type": "array", "items": {"$ref": "#/definitions/entity"}},
        {"type": "object"},
        {"type": "null"}
      ]
    }
  },
  "definitions": {
    "entity": {
      "type": "object",
      "required": ["_id"],
      "properties": {
        "_id": {"type": "string", "minLength": 1},
        "approvalStatus": {"type": ["string", "null"]},
        "createdAt": {"type": ["string", "number", "null"]}
      }
    }
  }
}`)

// Notifications answer a bare array or {"result": {"notifications": [...]}}.
var notificationsSchema = validation.MustCompile("notifications", `{
  "anyOf": [
    {"type": "array", "items": {"$ref": "#/definitions/notification"}},
    {
      "type": "object",
      "properties": {
        "result": {
          "type": ["object", "null"],
          "properties": {
            "notifications": {
              "type": ["array", "null"],
              "items": {"$ref": "#/definitions/notification"}
            }
          }
        }
      }
    }
  ],
  "definitions": {
    "notification": {
      "type": "object",
      "properties": {
        "_id": {"type": "string"},
        "type": {"type": ["string", "null"]},
        "data": {"type": ["object", "null"]}
      }
    }
  }
}`)

var createSchema = validation.MustCompile("create", `{
  "type": "object",
  "properties": {
    "_id": {"type": "string"},
    "data": {"type": ["object", "null"]},
    "result": {"type": ["object", "null"]}
  }
}`)
