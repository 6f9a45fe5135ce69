package gateway

import (
	"context"
	"fmt"

	"souviens/internal/config"
	"souviens/internal/snapshot"
)

// NewGatewayFromConfig creates a Gateway implementation based on the gateway config type.
func NewGatewayFromConfig(ctx context.Context, cfg config.GatewayConfig) (snapshot.Gateway, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryGateway(), nil
	case "supabase", "":
		g, err := NewSupabaseGateway(ctx, SupabaseOptions{
			URL:        cfg.URL,
			ServiceKey: cfg.ServiceKey,
			PageSize:   cfg.PageSize,
			Retries:    cfg.Retries,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown gateway type: %s", cfg.Type)
	}
}
