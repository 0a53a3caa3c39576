package ai

import (
	"os"
	"strings"
)

// parseAIDebugEnv reads PAINSCAN_AI_DEBUG and returns (debugEnabled, promptsEnabled).
// Valid values:
//
//	"all" or "1" or "true" - enable both debug and prompts
//	"prompts" - enable only prompts
//	"none" or "0" or "false" or "" - disable all
func parseAIDebugEnv() (debug bool, prompts bool) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("PAINSCAN_AI_DEBUG"))) {
	case "all", "1", "true":
		return true, true
	case "prompts":
		return false, true
	}
	return false, false
}

// isDebug checks if AI debug is enabled via PAINSCAN_AI_DEBUG.
func isDebug() bool {
	debug, _ := parseAIDebugEnv()
	return debug
}

// isDebugPrompts checks if AI prompt debugging is enabled via PAINSCAN_AI_DEBUG.
func isDebugPrompts() bool {
	_, prompts := parseAIDebugEnv()
	return prompts
}

// providerDebug checks the provider-specific PAINSCAN_<NAME>_DEBUG switch.
func providerDebug(providerName string) bool {
	return envBool("PAINSCAN_" + strings.ToUpper(providerName) + "_DEBUG")
}

func envBool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
