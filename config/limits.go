package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Input limits for configuration sources
const (
	maxConfigSize = 1 << 20 // bytes per file
	maxNesting    = 32      // JSON object/array depth
	maxEnvValue   = 4096    // bytes per environment override
)

// readConfigFile reads a layer file. Only regular .json, .yaml and .yml files
// up to maxConfigSize are accepted.
func readConfigFile(path string) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, invalid(fmt.Sprintf("%s: unsupported config extension %q", path, ext))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalid(fmt.Sprintf("%s is not a regular file", path))
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, invalid(fmt.Sprintf("%s exceeds %d bytes", path, maxConfigSize))
	}
	return data, nil
}

// checkNesting rejects JSON documents nested deeper than maxNesting. Syntax
// errors are left to the decoder that follows.
func checkNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		d, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch d {
		case '{', '[':
			depth++
			if depth > maxNesting {
				return invalid(fmt.Sprintf("json nested deeper than %d levels", maxNesting))
			}
		default:
			depth--
		}
	}
}

// checkEnvValue rejects override values that are oversized or carry NUL
// bytes
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return invalid(fmt.Sprintf("%s longer than %d bytes", key, maxEnvValue))
	}
	if strings.IndexByte(value, 0) >= 0 {
		return invalid(fmt.Sprintf("%s contains a null byte", key))
	}
	return nil
}
