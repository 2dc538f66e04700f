package query

import "fmt"

// ParseError reports a query parameter that cannot be turned into an expression
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "query: " + e.Message
}

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}
