package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Cancellation fallback policies applied to actors without an administrative role.
const (
	CancellationFallbackAnyAuthenticated = "any_authenticated"
	CancellationFallbackEditors          = "editors"
	CancellationFallbackAdminsOnly       = "admins_only"
)

const (
	keySchedulingTolerance   = "ledger.schedulingToleranceTons"
	keyCompletionEpsilon     = "ledger.completionEpsilonTons"
	keyCancellationFallback  = "ledger.cancellationFallback"
	keyMaxAllocationAttempts = "ledger.maxAllocationAttempts"
	keyAdminRoles            = "ledger.adminRoles"
	keyEditorRoles           = "ledger.editorRoles"
)

// LedgerPolicy carries the tunable rules of the mass ledger.
type LedgerPolicy struct {
	SchedulingToleranceTons float64
	CompletionEpsilonTons   float64
	CancellationFallback    string
	MaxAllocationAttempts   int
	AdminRoles              []string
	EditorRoles             []string
}

func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		SchedulingToleranceTons: 0.1,
		CompletionEpsilonTons:   0.001,
		CancellationFallback:    CancellationFallbackAnyAuthenticated,
		MaxAllocationAttempts:   3,
		AdminRoles:              []string{"SuperAdm", "AdmRH", "Administrador"},
		EditorRoles:             []string{"Apontador", "Encarregado"},
	}
}

// SchedulingTolerance is the minimum available mass for a requisition to be schedulable.
func (p LedgerPolicy) SchedulingTolerance() decimal.Decimal {
	return decimal.NewFromFloat(p.SchedulingToleranceTons)
}

// CompletionEpsilon is the remaining mass under which a delivery counts as completed.
func (p LedgerPolicy) CompletionEpsilon() decimal.Decimal {
	return decimal.NewFromFloat(p.CompletionEpsilonTons)
}

type LedgerPolicyHolder struct {
	current atomic.Value // holds LedgerPolicy

	mu        sync.Mutex
	listeners []func(LedgerPolicy)
}

// NewStaticLedgerPolicyHolder returns a holder that never reloads.
func NewStaticLedgerPolicyHolder(policy LedgerPolicy) *LedgerPolicyHolder {
	holder := &LedgerPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewLedgerPolicyHolder(cfg Config, log *zap.Logger) (*LedgerPolicyHolder, error) {
	log = log.Named("config.ledger")
	v := viper.New()

	if strings.TrimSpace(cfg.LedgerPolicyPath) != "" {
		v.SetConfigFile(cfg.LedgerPolicyPath)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/pavetrack")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAVETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerPolicy()
	v.SetDefault(keySchedulingTolerance, defaults.SchedulingToleranceTons)
	v.SetDefault(keyCompletionEpsilon, defaults.CompletionEpsilonTons)
	v.SetDefault(keyCancellationFallback, defaults.CancellationFallback)
	v.SetDefault(keyMaxAllocationAttempts, defaults.MaxAllocationAttempts)
	v.SetDefault(keyAdminRoles, defaults.AdminRoles)
	v.SetDefault(keyEditorRoles, defaults.EditorRoles)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read ledger policy: %w", err)
		}
		fileLoaded = false
		log.Info("ledger policy file not found, using defaults", zap.String("path", cfg.LedgerPolicyPath))
	}

	policy, err := decodeLedgerPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticLedgerPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeLedgerPolicy(v)
		if err == nil {
			err = holder.Update(updated)
		}
		if err != nil {
			log.Warn("ledger policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("ledger policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LedgerPolicyHolder) Get() LedgerPolicy {
	return h.current.Load().(LedgerPolicy)
}

// OnChange registers fn to run after every accepted Update.
func (h *LedgerPolicyHolder) OnChange(fn func(LedgerPolicy)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Update validates and publishes policy, then notifies listeners in registration order.
func (h *LedgerPolicyHolder) Update(policy LedgerPolicy) error {
	if err := ValidateLedgerPolicy(policy); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(policy)
	for _, fn := range h.listeners {
		fn(policy)
	}
	return nil
}

// decodeLedgerPolicy reads key by key so defaults fill whatever the file omits.
func decodeLedgerPolicy(v *viper.Viper) (LedgerPolicy, error) {
	policy := LedgerPolicy{
		SchedulingToleranceTons: v.GetFloat64(keySchedulingTolerance),
		CompletionEpsilonTons:   v.GetFloat64(keyCompletionEpsilon),
		CancellationFallback:    strings.ToLower(strings.TrimSpace(v.GetString(keyCancellationFallback))),
		MaxAllocationAttempts:   v.GetInt(keyMaxAllocationAttempts),
		AdminRoles:              trimRoles(v.GetStringSlice(keyAdminRoles)),
		EditorRoles:             trimRoles(v.GetStringSlice(keyEditorRoles)),
	}
	if err := ValidateLedgerPolicy(policy); err != nil {
		return LedgerPolicy{}, err
	}
	return policy, nil
}

func trimRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = strings.TrimSpace(role); role != "" {
			out = append(out, role)
		}
	}
	return out
}

func ValidateLedgerPolicy(p LedgerPolicy) error {
	if p.SchedulingToleranceTons < 0 {
		return errors.New("ledger.schedulingToleranceTons cannot be negative")
	}
	if p.CompletionEpsilonTons < 0 {
		return errors.New("ledger.completionEpsilonTons cannot be negative")
	}
	if p.MaxAllocationAttempts < 1 {
		return errors.New("ledger.maxAllocationAttempts must be at least 1")
	}
	switch p.CancellationFallback {
	case CancellationFallbackAnyAuthenticated, CancellationFallbackEditors, CancellationFallbackAdminsOnly:
	default:
		return fmt.Errorf("ledger.cancellationFallback %q is not supported", p.CancellationFallback)
	}
	if len(p.AdminRoles) == 0 {
		return errors.New("ledger.adminRoles cannot be empty")
	}
	return nil
}
