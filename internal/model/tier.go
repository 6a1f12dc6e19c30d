package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the quota class of an identity. Tiers are ordered: free < developer < pro.
type Tier uint8

const (
	TierFree Tier = iota
	TierDeveloper
	TierPro

	tierCount
)

// TierPolicy holds the ceilings a tier grants.
type TierPolicy struct {
	Name         string
	DailyLimit   int64
	MonthlyLimit int64
}

// tierPolicies is the one place ceilings are defined; its length is pinned to tierCount.
var tierPolicies = [tierCount]TierPolicy{
	TierFree:      {Name: "free", DailyLimit: 100, MonthlyLimit: 3_000},
	TierDeveloper: {Name: "developer", DailyLimit: 1_000, MonthlyLimit: 30_000},
	TierPro:       {Name: "pro", DailyLimit: 10_000, MonthlyLimit: 300_000},
}

// Tiers returns every tier in ascending order.
func Tiers() []Tier {
	out := make([]Tier, 0, tierCount)
	for t := Tier(0); t < tierCount; t++ {
		out = append(out, t)
	}
	return out
}

// ParseTier normalizes input. Returns (value, true) if valid; otherwise (free, false).
func ParseTier(s string) (Tier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := Tier(0); t < tierCount; t++ {
		if tierPolicies[t].Name == s {
			return t, true
		}
	}
	return TierFree, false
}

func (t Tier) Valid() bool { return t < tierCount }

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
	return tierPolicies[t].Name
}

// Policy returns the ceilings of t. Unknown tiers get the free policy.
func (t Tier) Policy() TierPolicy {
	if !t.Valid() {
		return tierPolicies[TierFree]
	}
	return tierPolicies[t]
}

func (t Tier) DailyLimit() int64   { return t.Policy().DailyLimit }
func (t Tier) MonthlyLimit() int64 { return t.Policy().MonthlyLimit }

// Ceilings holds per-tier daily ceilings that replace the tier table's.
type Ceilings map[Tier]int64

// Daily returns the daily ceiling of t. Missing or non-positive entries fall back to the tier table.
func (c Ceilings) Daily(t Tier) int64 {
	if n, ok := c[t]; ok && n > 0 {
		return n
	}
	return t.DailyLimit()
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := ParseTier(s)
	if !ok {
		return fmt.Errorf("unknown tier %q", s)
	}
	*t = v
	return nil
}

// Value stores the tier by name.
func (t Tier) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", uint8(t))
	}
	return t.String(), nil
}

// Scan lets sqlx read the tier column (stored as its name).
func (t *Tier) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	case nil:
		*t = TierFree
		return nil
	default:
		return fmt.Errorf("tier: unsupported scan type %T", src)
	}
	v, ok := ParseTier(s)
	if !ok {
		return fmt.Errorf("unknown tier %q", s)
	}
	*t = v
	return nil
}
