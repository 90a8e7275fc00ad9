package adapter

// ErrInvalidConfig describes a configuration validation failure on a single
// field. All adapter Config types return it from Validate.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return "invalid config field '" + e.Field + "': " + e.Reason
}
