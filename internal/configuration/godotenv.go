package configuration

import (
	"fmt"

	"github.com/joho/godotenv"
)

// GodotenvProvider reads the workio configuration files and the
// `<scheme>.protocol` descriptors of the scheme registry with godotenv.
// Later files override the keys of earlier ones.
type GodotenvProvider struct{}

// Read parses filenames in order. Unlike [godotenv.Read], an empty list
// yields an empty map rather than falling back to ".env".
func (*GodotenvProvider) Read(filenames ...string) (map[string]string, error) {
	if len(filenames) == 0 {
		return map[string]string{}, nil
	}

	envMap, err := godotenv.Read(filenames...)
	if err != nil {
		return nil, fmt.Errorf("(config-godotenv) %w", err)
	}

	return envMap, nil
}
