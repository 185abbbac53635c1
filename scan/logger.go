package scan

// Logf receives diagnostic output. A nil Logf discards it.
type Logf func(format string, v ...interface{})

// Discard is a Logf that drops everything
func Discard(string, ...interface{}) {}

func (l Logf) printf(format string, v ...interface{}) {
	if l != nil {
		l(format, v...)
	}
}
