package env

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Load applies KEY=VALUE files to the process environment in order. Variables
// set before Load was called win over every file; among files the later one
// wins. Missing files are skipped. It returns the files read.
func Load(paths ...string) []string {
	preset := map[string]bool{}
	for _, e := range os.Environ() {
		if k, _, ok := strings.Cut(e, "="); ok {
			preset[k] = true
		}
	}
	var read []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		vars := Parse(f)
		_ = f.Close()
		for _, kv := range vars {
			if preset[kv[0]] {
				continue
			}
			_ = os.Setenv(kv[0], kv[1])
		}
		read = append(read, p)
	}
	return read
}

// Parse reads dotenv syntax: blank lines and # comments are skipped, an
// optional "export " prefix is dropped, single quotes are literal and double
// quotes or bare values expand ${VAR} against the environment.
func Parse(r io.Reader) [][2]string {
	var out [][2]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out = append(out, [2]string{k, value(strings.TrimSpace(v))})
	}
	return out
}

func value(v string) string {
	if len(v) >= 2 {
		switch q := v[0]; {
		case q == '\'' && v[len(v)-1] == '\'':
			return v[1 : len(v)-1]
		case q == '"' && v[len(v)-1] == '"':
			return os.ExpandEnv(v[1 : len(v)-1])
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return os.ExpandEnv(v)
}
