package model

import "fmt"

// ConfigError is a configuration problem scoped to one source or calendar.
type ConfigError struct {
	Source   string
	Calendar string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Calendar != "" {
		return fmt.Sprintf("config %s/%s: %s", e.Source, e.Calendar, e.Reason)
	}
	return fmt.Sprintf("config %s: %s", e.Source, e.Reason)
}

// ImportError records a custom adapter that could not be constructed.
type ImportError struct {
	Source string
	Err    error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.Source, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// FileParseError marks a source directory whose config file is missing or
// unreadable; the directory is excluded from the run.
type FileParseError struct {
	Path string
	Err  error
}

func (e *FileParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *FileParseError) Unwrap() error { return e.Err }
