//go:build windows

package service

// DefaultInterpreter is used for interpreter_script services without an explicit interpreter.
func DefaultInterpreter() string { return "powershell" }
