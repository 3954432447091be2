// Package signal defines the operational signal model shared by the dashboard:
// signals, severities, statuses, focus modes, the focus filter and the summary
// statistics behind the dashboard charts.
package signal
