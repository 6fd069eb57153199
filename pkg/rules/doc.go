/*
Package rules holds the pure domain validations of a lab order.

  - ValidateTeeth validates FDI two-digit tooth notation (11-18, 21-28, 31-38, 41-48).
  - Rules.ValidateBridge enforces contiguous, duplicate-free spans within configured bounds.
  - Rules.ValidateMaterial checks a material against the restoration compatibility table.

Thresholds, the compatibility table and the category aliases are injected
through Config (usually loaded from YAML) rather than hardcoded in callers.
*/
package rules
