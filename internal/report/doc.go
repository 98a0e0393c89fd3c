// Package report summarizes the registry and observation log for the analyze command.
package report
