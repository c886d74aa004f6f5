package cel

// RuleExamples are sample validation rules accepted by validation.rules.
var RuleExamples = map[string]string{
	"service_prefix":     `service.startsWith("svc-")`,
	"short_message":      `message.size() <= 1024`,
	"service_allowlist":  `service in ["checkout", "billing", "auth"]`,
	"metadata_has_field": `has(metadata.userId) && metadata.userId != ""`,
	"tenant_tag":         `!has(metadata.tenant) || metadata.tenant.size() <= 64`,
	"first_attempt_only": `retryCount == 0 || service != "audit"`,
	"recent_events":      `timestamp > timestamp("2000-01-01T00:00:00Z")`,
}
