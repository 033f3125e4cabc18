package utils

import "strings"

// Environment names the deployment mode the process runs in.
type Environment string

const (
	PRODUCTION  Environment = "production"
	DEVELOPMENT Environment = "development"
)

func (e Environment) Get() string {
	return string(e)
}

// FromEnvironmentStr maps a case-insensitive name to an Environment,
// falling back to DEVELOPMENT.
func FromEnvironmentStr(str string) Environment {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "production":
		return PRODUCTION
	default:
		return DEVELOPMENT
	}
}
