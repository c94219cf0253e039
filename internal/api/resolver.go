package api

import (
	"context"
	"strings"

	"github.com/R005ter/fwp/database"
)

// TokenMapResolver maps static auth tokens to tenant names looked up in
// the database. It stands in for the real session layer, which lives
// outside the core; the orchestrator only ever sees resolved tenants.
type TokenMapResolver struct {
	DB *database.Database
	// Tokens maps opaque token -> tenant name.
	Tokens map[string]string
}

func (r *TokenMapResolver) Resolve(_ context.Context, token string) (*database.Tenant, error) {
	name, ok := r.Tokens[token]
	if !ok {
		return nil, nil
	}
	return r.DB.GetTenantByName(name)
}

// ParseTokenMap parses "token=tenant" lines (blank lines and #-comments
// skipped) into the resolver's token map.
func ParseTokenMap(text string) map[string]string {
	tokens := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		tokens[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return tokens
}
