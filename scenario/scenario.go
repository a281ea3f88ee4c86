package scenario

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Scenario is a scripted sequence of ledger calls with expectations.
type Scenario struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description,omitempty"`
	Sale         *SaleOverrides         `yaml:"sale,omitempty"`
	DeployValue  string                 `yaml:"deployValue,omitempty"`
	ExpectDeploy string                 `yaml:"expectDeployError,omitempty"`
	Accounts     map[string]AccountSpec `yaml:"accounts,omitempty"`
	Steps        []Step                 `yaml:"steps"`
}

// SaleOverrides replace the canonical sale parameters.
type SaleOverrides struct {
	Rate          string `yaml:"rate,omitempty"`
	MaxSale       string `yaml:"maxSale,omitempty"`
	MaxAllocation string `yaml:"maxAllocation,omitempty"`
	MinPurchase   string `yaml:"minPurchase,omitempty"`
	MaxWithdrawal string `yaml:"maxWithdrawal,omitempty"`
}

// AccountSpec declares a named participant. Address defaults to a
// deterministic address derived from the name.
type AccountSpec struct {
	Address string `yaml:"address,omitempty"`
	Balance string `yaml:"balance,omitempty"`
	// Program attaches receive-side behaviour: "reject", "reentrant-refund"
	// or "reentrant-withdraw".
	Program string `yaml:"program,omitempty"`
}

// Step is one call, one check, or both. A step without Call only runs its
// check.
type Step struct {
	Name         string   `yaml:"name,omitempty"`
	Call         string   `yaml:"call,omitempty"`
	From         string   `yaml:"from,omitempty"`
	Address      string   `yaml:"address,omitempty"`
	To           string   `yaml:"to,omitempty"`
	Source       string   `yaml:"source,omitempty"`
	Amount       string   `yaml:"amount,omitempty"`
	Value        string   `yaml:"value,omitempty"`
	ExpectError  string   `yaml:"expectError,omitempty"`
	ExpectResult string   `yaml:"expectResult,omitempty"`
	ExpectEvents []string `yaml:"expectEvents,omitempty"`
	NoEvents     []string `yaml:"noEvents,omitempty"`
	Check        *Check   `yaml:"check,omitempty"`
}

// Check asserts ledger state after a step. Maps are keyed by account name.
type Check struct {
	Phase              string            `yaml:"phase,omitempty"`
	Tokens             map[string]string `yaml:"tokens,omitempty"`
	Currency           map[string]string `yaml:"currency,omitempty"`
	CurrencyDelta      map[string]string `yaml:"currencyDelta,omitempty"`
	PendingRefund      map[string]string `yaml:"pendingRefund,omitempty"`
	Whitelisted        map[string]bool   `yaml:"whitelisted,omitempty"`
	TotalSupply        string            `yaml:"totalSupply,omitempty"`
	TotalSale          string            `yaml:"totalSale,omitempty"`
	TotalEscrowed      string            `yaml:"totalEscrowed,omitempty"`
	TotalLockedRefunds string            `yaml:"totalLockedRefunds,omitempty"`
	Allocated          string            `yaml:"allocated,omitempty"`
	Custody            string            `yaml:"custody,omitempty"`
	Available          string            `yaml:"available,omitempty"`
	Invariants         bool              `yaml:"invariants,omitempty"`
}

// Parse decodes one scenario document. Unknown keys are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	sc := &Scenario{}
	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// LoadPath loads a single file, or every *.yaml and *.yml file in a directory
// in name order.
func LoadPath(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		sc, err := Load(path)
		if err != nil {
			return nil, err
		}
		return []*Scenario{sc}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		sc, err := Load(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// Builtin returns the scenarios shipped with the package.
func Builtin() ([]*Scenario, error) {
	names, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		raw, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		sc, err := Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (sc *Scenario) validate() error {
	var errs []error
	if strings.TrimSpace(sc.Name) == "" {
		errs = append(errs, errors.New("name required"))
	}
	if len(sc.Steps) == 0 && sc.ExpectDeploy == "" {
		errs = append(errs, errors.New("at least one step required"))
	}
	for name, spec := range sc.Accounts {
		if _, reserved := reservedAccounts[name]; reserved && spec.Address != "" {
			errs = append(errs, fmt.Errorf("account %q: address of a reserved role cannot be overridden", name))
		}
		if spec.Program != "" {
			if _, ok := programKinds[spec.Program]; !ok {
				errs = append(errs, fmt.Errorf("account %q: unknown program %q", name, spec.Program))
			}
		}
	}
	for i, step := range sc.Steps {
		if step.Call == "" && step.Check == nil {
			errs = append(errs, fmt.Errorf("step %d: call or check required", i+1))
		}
		if step.Call != "" {
			if _, ok := callMethods[step.Call]; !ok {
				errs = append(errs, fmt.Errorf("step %d: unknown call %q", i+1, step.Call))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("scenario %q: %w", sc.Name, errors.Join(errs...))
}
