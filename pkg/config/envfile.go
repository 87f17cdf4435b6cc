package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DotEnvResult reports what LoadDotEnv did.
type DotEnvResult struct {
	Path   string
	Loaded bool
	Keys   int
	Err    error
}

// LoadDotEnv loads KEY=VALUE pairs from PLOTWISE_ENV_PATH or from the
// nearest .env file at or above the working directory. Variables that are
// already set in the environment are left untouched. A missing file is
// not an error.
func LoadDotEnv() DotEnvResult {
	if override := strings.TrimSpace(os.Getenv("PLOTWISE_ENV_PATH")); override != "" {
		return LoadDotEnvPath(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return DotEnvResult{Err: err}
	}
	path := findUpwards(cwd, ".env")
	if path == "" {
		return DotEnvResult{}
	}
	return LoadDotEnvPath(path)
}

// LoadDotEnvPath loads a specific .env file.
func LoadDotEnvPath(path string) DotEnvResult {
	res := DotEnvResult{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := splitEnvLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			res.Err = err
			return res
		}
		res.Keys++
	}
	if err := scanner.Err(); err != nil {
		res.Err = err
	}
	return res
}

func splitEnvLine(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}

func findUpwards(start, filename string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
