package config

import (
	"fmt"
	"strings"
)

// ValidationError lists config fields that are missing or hold an unsupported value.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names in check order.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func (c Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	check(c.Server.Port != "", "Server.Port")
	check(!blank(c.Gateway.CheckoutURL), "Gateway.CheckoutURL")
	check(!blank(c.Gateway.StatusURL), "Gateway.StatusURL")
	check(c.Gateway.PollInterval > 0, "Gateway.PollInterval")

	switch c.Payment.Provider {
	case "beehive":
		check(!blank(c.Payment.TokenizationURL), "Payment.TokenizationURL")
	case "stripe":
	default:
		check(false, "Payment.Provider")
	}

	check(c.Sessions.TTL > 0, "Sessions.TTL")
	check(!blank(c.Idempotency.Header), "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		check(!blank(c.Idempotency.RedisAddr), "Idempotency.RedisAddr")
	default:
		check(false, "Idempotency.Backend")
	}

	check(c.Events.ProjectID == "" || !blank(c.Events.Topic), "Events.Topic")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
