package secret

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Resolver substitutes placeholders in connection URLs.
//
//	{{env:NAME}}    value of environment variable NAME
//	{{secret:KEY}}  value of KEY in the secret store
//
// Unrecognised placeholders are left as written.
type Resolver struct {
	Store SecretStore
}

// NewResolver creates a resolver backed by store. A nil store reads the
// environment.
func NewResolver(store SecretStore) *Resolver {
	if store == nil {
		store = EnvStore{}
	}
	return &Resolver{Store: store}
}

// Resolve returns s with every placeholder replaced.
func (r *Resolver) Resolve(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	return fasttemplate.ExecuteFuncStringWithErr(s, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		kind, key, ok := strings.Cut(strings.TrimSpace(tag), ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return w.Write([]byte("{{" + tag + "}}"))
		}
		switch kind {
		case "env":
			v, _ := EnvStore{}.Get(key)
			return w.Write(v)
		case "secret":
			v, err := r.Store.Get(key)
			if err != nil {
				return 0, fmt.Errorf("secret %q: %w", key, err)
			}
			if len(v) == 0 {
				return 0, fmt.Errorf("secret %q: not found", key)
			}
			return w.Write(v)
		}
		return w.Write([]byte("{{" + tag + "}}"))
	})
}
