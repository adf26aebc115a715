package integration

import (
	"fmt"
	"slices"
	"strings"
)

// ModuleSetVersion identifies the current module enumeration. Bump it whenever
// a module is added, removed or reordered.
const ModuleSetVersion = "2025-01"

// ModuleID identifies one category of provider data synchronized as an
// independent unit with its own cursor.
type ModuleID string

const (
	ModuleReceivables   ModuleID = "RECEIVABLES"
	ModulePayables      ModuleID = "PAYABLES"
	ModuleReceivedItems ModuleID = "RECEIVED_ITEMS"
	ModulePaidItems     ModuleID = "PAID_ITEMS"
	ModuleInventory     ModuleID = "INVENTORY"
	ModuleSales         ModuleID = "SALES"
)

// allModules is the canonical execution order
var allModules = []ModuleID{
	ModuleReceivables,
	ModulePayables,
	ModuleReceivedItems,
	ModulePaidItems,
	ModuleInventory,
	ModuleSales,
}

// AllModules returns every module in canonical order
func AllModules() []ModuleID {
	return slices.Clone(allModules)
}

// IsValid checks if the module id is part of the current module set
func (m ModuleID) IsValid() bool {
	return slices.Contains(allModules, m)
}

// IsSnapshot reports whether the module describes point-in-time state rather
// than a historical series. Snapshot modules cannot be bounded by a period.
func (m ModuleID) IsSnapshot() bool {
	return m == ModuleInventory
}

// String returns the string representation of ModuleID
func (m ModuleID) String() string {
	return string(m)
}

// ParseModuleID parses a module id, accepting any letter case
func ParseModuleID(s string) (ModuleID, error) {
	m := ModuleID(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: unknown module %q", ErrModuleConfig, s)
	}
	return m, nil
}

// ModulesForMode returns the ordered module list a run of the given mode walks.
// Period runs never include snapshot modules.
func ModulesForMode(mode RunMode) ([]ModuleID, error) {
	switch mode {
	case RunModeIncremental:
		return AllModules(), nil
	case RunModePeriod:
		modules := make([]ModuleID, 0, len(allModules))
		for _, m := range allModules {
			if !m.IsSnapshot() {
				modules = append(modules, m)
			}
		}
		return modules, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunMode, mode)
	}
}

// SameModules reports whether two module lists are identical in content and order
func SameModules(a, b []ModuleID) bool {
	return slices.Equal(a, b)
}
