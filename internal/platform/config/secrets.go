package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PaymentPublicKeySecret names the payment SDK public key for WithRequiredSecrets.
const PaymentPublicKeySecret = "Payment.PublicKey"

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError wraps a failed resolution of Ref.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. Error only prints
// redacted names so it is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return "missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// RedactedNames returns sorted hashes of the missing names.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	sort.Strings(out)
	return out
}

// Names returns the sorted config field names.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

func unconfiguredResolver() SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
}

// secretField is a config value that may hold a secret reference.
type secretField struct {
	name  string
	value *string
}

func secretFields(cfg *Config) []secretField {
	return []secretField{
		{PaymentPublicKeySecret, &cfg.Payment.PublicKey},
		{"Payment.StripeAPIKey", &cfg.Payment.StripeAPIKey},
		{"Idempotency.RedisPassword", &cfg.Idempotency.RedisPassword},
	}
}

// resolveSecrets replaces references in place and returns every field's final value by name.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)
	for _, field := range secretFields(cfg) {
		ref, ok := secretReference(*field.value)
		if ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field.value = value
		}
		resolved[field.name] = strings.TrimSpace(*field.value)
	}
	return resolved, nil
}

// secretReference recognises secret:// and the legacy sm:// form, normalised to secret://.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "secret://") {
		return value, true
	}
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return "", false
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]bool, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
