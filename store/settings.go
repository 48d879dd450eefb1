package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"tradegate/market"
)

// Settings keys consumed by the risk validator and execution pipeline.
const (
	KeyKillSwitch         = "kill_switch_enabled"
	KeyGlobalMaxLeverage  = "global_max_leverage"
	KeyMaxSymbolExposure  = "max_symbol_exposure_usd"
	KeyCorrelationGroups  = "correlation_groups"
	KeyPeakEquity         = "peak_equity"
	KeyGlobalMaxTradeSize = "global_max_trade_size"
	KeyCurrentBalance     = "current_balance"
)

// ErrMalformedGroups is returned when the correlation_groups setting
// exists but cannot be decoded or fails validation. Callers must treat
// this as a hard failure, not as "no grouping".
var ErrMalformedGroups = errors.New("malformed correlation_groups setting")

// GetString returns the raw value for key. The second return is false
// when the key is absent.
func (s *Store) GetString(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetString(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetBool parses the value as a boolean. Absent keys return false.
func (s *Store) GetBool(key string) (bool, error) {
	v, ok, err := s.GetString(key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return b, nil
}

// GetInt parses the value as an integer, returning fallback when the
// key is absent.
func (s *Store) GetInt(key string, fallback int) (int, error) {
	v, ok, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	return n, nil
}

// GetDecimal parses the value as a decimal. The second return is false
// when the key is absent.
func (s *Store) GetDecimal(key string) (decimal.Decimal, bool, error) {
	v, ok, err := s.GetString(key)
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("setting %s: %w", key, err)
	}
	return d, true, nil
}

func (s *Store) SetDecimal(key string, v decimal.Decimal) error {
	return s.SetString(key, v.String())
}

// GetJSON decodes the value into out. Absent keys return false without
// touching out.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	v, ok, err := s.GetString(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

// corrGroupsDoc is the serialized shape of the correlation_groups
// setting: group name -> member symbols plus a per-group USD cap.
type corrGroupsDoc map[string]struct {
	Symbols []string `json:"symbols"`
	CapUSD  string   `json:"cap_usd"`
}

// CorrelationGroups loads and validates the configured correlation
// groups. A missing setting yields an empty slice; a present but
// malformed one yields ErrMalformedGroups so risk checks fail loudly
// instead of silently dropping group limits.
func (s *Store) CorrelationGroups() ([]market.CorrelationGroup, error) {
	v, ok, err := s.GetString(KeyCorrelationGroups)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var doc corrGroupsDoc
	if err := json.Unmarshal([]byte(v), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGroups, err)
	}

	groups := make([]market.CorrelationGroup, 0, len(doc))
	for name, g := range doc {
		if len(g.Symbols) == 0 {
			return nil, fmt.Errorf("%w: group %q has no symbols", ErrMalformedGroups, name)
		}
		capUSD, err := decimal.NewFromString(g.CapUSD)
		if err != nil || capUSD.Sign() <= 0 {
			return nil, fmt.Errorf("%w: group %q has invalid cap %q", ErrMalformedGroups, name, g.CapUSD)
		}
		groups = append(groups, market.CorrelationGroup{
			Name:    name,
			Symbols: g.Symbols,
			CapUSD:  capUSD,
		})
	}
	return groups, nil
}

// Typed accessors used by the risk validator.

func (s *Store) KillSwitchEnabled() (bool, error) {
	return s.GetBool(KeyKillSwitch)
}

func (s *Store) GlobalMaxLeverage() (int, error) {
	return s.GetInt(KeyGlobalMaxLeverage, 20)
}

func (s *Store) MaxSymbolExposureUSD() (decimal.Decimal, bool, error) {
	return s.GetDecimal(KeyMaxSymbolExposure)
}

func (s *Store) PeakEquity() (decimal.Decimal, bool, error) {
	return s.GetDecimal(KeyPeakEquity)
}

func (s *Store) SetPeakEquity(v decimal.Decimal) error {
	return s.SetDecimal(KeyPeakEquity, v)
}

func (s *Store) GlobalMaxTradeSize() (decimal.Decimal, bool, error) {
	return s.GetDecimal(KeyGlobalMaxTradeSize)
}

func (s *Store) CurrentBalance() (decimal.Decimal, bool, error) {
	return s.GetDecimal(KeyCurrentBalance)
}
