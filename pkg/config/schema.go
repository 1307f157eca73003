package config

// schemaJSON is the JSON Schema every configuration document must satisfy
// before decoding. Thresholds and counts are range-checked here so the
// component constructors only see plausible values.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kernel"],
  "properties": {
    "kernel": {
      "type": "object",
      "properties": {
        "shards": {"type": "integer", "minimum": 1, "maximum": 1024},
        "budget_ticks": {"type": "integer", "minimum": 1, "maximum": 4096},
        "beat_ticks": {"type": "integer", "minimum": 1, "maximum": 4096},
        "park_capacity": {"type": "integer", "minimum": 2}
      },
      "additionalProperties": false
    },
    "guards": {
      "type": "array",
      "maxItems": 64,
      "items": {"$ref": "#/$defs/guard"}
    },
    "workflow": {
      "type": "object",
      "properties": {
        "steps": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "pattern"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "pattern": {"type": "string", "minLength": 1},
              "max_instances": {"type": "integer", "minimum": 0, "maximum": 64},
              "join_threshold": {"type": "integer", "minimum": 0, "maximum": 64},
              "timeout_ticks": {"type": "integer", "minimum": 0}
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "quorum": {
      "type": "object",
      "properties": {
        "coordinator": {"type": "string"},
        "timeout_ms": {"type": "integer", "minimum": 1},
        "peers": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "public_key"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "public_key": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
              "private_key": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"}
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "storage": {
      "type": "object",
      "properties": {
        "driver": {"enum": ["sqlite", "postgres", "memory"]},
        "dsn": {"type": "string"}
      },
      "additionalProperties": false
    },
    "telemetry": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "endpoint": {"type": "string"}
      },
      "additionalProperties": false
    },
    "log_level": {"enum": ["debug", "info", "warn", "error"]}
  },
  "additionalProperties": false,
  "$defs": {
    "guard": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "enum": ["tick_budget", "data_size", "query_complexity", "cache_hit_rate", "composite"]
        },
        "threshold": {"type": "integer", "minimum": 0},
        "children": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#/$defs/guard"}
        }
      },
      "additionalProperties": false
    }
  }
}`
