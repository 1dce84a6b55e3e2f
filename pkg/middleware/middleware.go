// Package middleware builds handler-chain wrappers from declared middleware
// config. Chains are composed once per capability at registration.
package middleware

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
)

// Build turns a middleware declaration list into wrappers, outermost first.
// Unknown middleware names are logged and skipped.
func Build(capabilityID string, chain []config.MiddlewareConfig) []capabilities.Middleware {
	log := logger.WithComponent("middleware")

	wrappers := make([]capabilities.Middleware, 0, len(chain))
	for _, mc := range chain {
		mw, err := build(capabilityID, mc)
		if err != nil {
			log.Warn("skipping middleware", "capability", capabilityID, "name", mc.Name, "error", err)
			continue
		}
		wrappers = append(wrappers, mw)
	}
	return wrappers
}

func build(capabilityID string, mc config.MiddlewareConfig) (capabilities.Middleware, error) {
	switch mc.Name {
	case "rate_limit":
		return newRateLimit(mc.Params)
	case "cache":
		return newCache(mc.Params)
	case "retry":
		return newRetry(mc.Params)
	case "timed":
		return newTimed(capabilityID, mc.Params)
	case "logged":
		return newLogged(capabilityID), nil
	default:
		return nil, fmt.Errorf("unknown middleware %q", mc.Name)
	}
}

func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}
