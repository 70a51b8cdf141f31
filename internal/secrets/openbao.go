// Package secrets moves the service's credentials from an OpenBao KV v2
// path into the environment before config is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var ErrSecretPathNotFound = errors.New("openbao secret path not found")

// Secret is one environment variable that may be kept in OpenBao.
type Secret struct {
	Env      string
	Required bool
}

// Managed lists the credentials the checkout service and the notifier read
// from the environment. Without the tokenization key every purchase fails.
var Managed = []Secret{
	{Env: "TOKENIZATION_API_KEY", Required: true},
	{Env: "TOKENIZATION_BASE_URL"},
	{Env: "SMTP_USER"},
	{Env: "SMTP_PASSWORD"},
	{Env: "OPENFGA_STORE_ID"},
}

// Report names secrets, never their values.
type Report struct {
	Applied []string // exported from the vault
	Kept    []string // already set; the vault value was not used
	Missing []string // required and set nowhere
	Ignored []string // vault keys that are not managed
}

func (r Report) Ready() bool { return len(r.Missing) == 0 }

// Vault addresses the KV v2 secret that holds the managed credentials.
type Vault struct {
	Addr      string
	Token     string
	Mount     string
	Path      string
	Namespace string
	Client    *http.Client
}

// VaultFromEnv reads OPENBAO_*. ok is false unless address, token and path
// are all set.
func VaultFromEnv() (v Vault, ok bool) {
	v = Vault{
		Addr:      strings.TrimRight(strings.TrimSpace(os.Getenv("OPENBAO_ADDR")), "/"),
		Token:     os.Getenv("OPENBAO_TOKEN"),
		Mount:     strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_MOUNT")), "/"),
		Path:      strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/"),
		Namespace: strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
	}
	if v.Mount == "" {
		v.Mount = "secret"
	}
	return v, v.Addr != "" && v.Token != "" && v.Path != ""
}

// Fetch returns the string-valued keys stored at the secret path. Nested
// values have no environment form and are dropped.
func (v Vault) Fetch(ctx context.Context) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.Addr, v.Mount, v.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", v.Token)
	if v.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", v.Namespace)
	}

	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", v.Mount, v.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", v.Mount, v.Path, ErrSecretPathNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read %s/%s: openbao answered %d", v.Mount, v.Path, resp.StatusCode)
	}

	var kv struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kv); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", v.Mount, v.Path, err)
	}

	values := make(map[string]string, len(kv.Data.Data))
	for k, raw := range kv.Data.Data {
		if s, err := cast.ToStringE(raw); err == nil {
			values[k] = s
		}
	}
	return values, nil
}

// Apply exports vault values for the managed secrets that are not already
// set, so a value in the process environment always overrides the vault.
func Apply(values map[string]string, managed []Secret) (Report, error) {
	var rep Report
	known := make(map[string]bool, len(managed))
	for _, s := range managed {
		known[s.Env] = true
		if os.Getenv(s.Env) != "" {
			if values[s.Env] != "" {
				rep.Kept = append(rep.Kept, s.Env)
			}
			continue
		}
		if v := values[s.Env]; v != "" {
			if err := os.Setenv(s.Env, v); err != nil {
				return rep, fmt.Errorf("export %s: %w", s.Env, err)
			}
			rep.Applied = append(rep.Applied, s.Env)
			continue
		}
		if s.Required {
			rep.Missing = append(rep.Missing, s.Env)
		}
	}
	for k := range values {
		if !known[k] {
			rep.Ignored = append(rep.Ignored, k)
		}
	}
	slices.Sort(rep.Ignored)
	return rep, nil
}

// Load applies the managed secrets from the vault named by OPENBAO_*. With
// no vault configured, or when the vault can't be read, the report still
// names the required secrets missing from the environment.
func Load(ctx context.Context) (Report, error) {
	v, ok := VaultFromEnv()
	if !ok {
		return Apply(nil, Managed)
	}
	values, err := v.Fetch(ctx)
	if err != nil {
		rep, _ := Apply(nil, Managed)
		return rep, err
	}
	return Apply(values, Managed)
}
