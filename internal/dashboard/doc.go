// Package dashboard owns the operator-facing state: the focus mode, the
// selected signal and the triage detail for that selection. All mutation
// goes through named actions on Controller; triage requests run in the
// background and only the most recent one for the current selection may
// update the detail.
package dashboard
