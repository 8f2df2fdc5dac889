//go:build debugchecks

package game

const debugChecks = true
