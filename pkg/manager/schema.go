package manager

// ConfigSchema defines the JSON schema for the domain configuration file
const ConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"title": "auto-ssl domain configuration",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["domains"],
		"additionalProperties": false,
		"properties": {
			"domains": {
				"type": "array",
				"items": {
					"type": "string",
					"minLength": 1
				},
				"minItems": 1,
				"description": "Hostnames covered by the certificate, the first one is the default common name"
			},
			"commonName": {
				"type": "string",
				"description": "Overrides the common name of the certificate"
			},
			"expireTimeThreshold": {
				"type": "integer",
				"minimum": 1,
				"description": "Renew when the live certificate expires within this many days"
			},
			"target": {
				"type": "string",
				"enum": ["oss", "local"],
				"description": "Selects the deployment target"
			},
			"useOSS": {
				"type": "boolean",
				"description": "Legacy discriminator, true selects the oss target"
			},
			"oss": {
				"type": "object",
				"required": ["region", "accessKeyId", "accessKeySecret", "bucket"],
				"additionalProperties": false,
				"properties": {
					"region": {"type": "string", "minLength": 1},
					"accessKeyId": {"type": "string", "minLength": 1},
					"accessKeySecret": {"type": "string", "minLength": 1},
					"bucket": {"type": "string", "minLength": 1},
					"endpoint": {"type": "string", "format": "uri"}
				}
			},
			"local": {
				"type": "object",
				"required": ["webRoot", "certPath"],
				"additionalProperties": false,
				"properties": {
					"webRoot": {"type": "string", "minLength": 1},
					"certPath": {"type": "string", "minLength": 1},
					"reloadCommand": {
						"type": "array",
						"items": {"type": "string"},
						"minItems": 1
					}
				}
			}
		}
	}
}`
