package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// List reports several problems of one kind at once, such as every invalid value of a configuration file.
type List struct {
	// What is the kind of the problems, like ErrInvalidConfig.
	What error

	// Children are the individual problems.
	Children []error
}

// Error prints What on the first line and then every child indented, one line per line of its message.
func (l List) Error() string {
	var sb strings.Builder

	sb.WriteString(l.What.Error())
	sb.WriteByte(':')

	for _, e := range l.Children {
		for _, line := range strings.Split(e.Error(), "\n") {
			sb.WriteString("\n  ")
			sb.WriteString(line)
		}
	}

	return sb.String()
}

// Unwrap returns What and the children, so errors.Is and errors.As see all of them.
func (l List) Unwrap() []error {
	return append([]error{l.What}, l.Children...)
}

// ListBuilder collects problems and builds a List only if there was any.
type ListBuilder struct {
	What     error
	Children []error
}

// Push appends errors. Nil errors are ignored.
func (lb *ListBuilder) Push(errs ...error) {
	for _, err := range errs {
		if err != nil {
			lb.Children = append(lb.Children, err)
		}
	}
}

// Pushf appends fmt.Errorf(format, values...).
func (lb *ListBuilder) Pushf(format string, values ...interface{}) {
	lb.Push(fmt.Errorf(format, values...))
}

// Build returns nil if nothing was pushed.
func (lb *ListBuilder) Build() error {
	if len(lb.Children) == 0 {
		return nil
	}

	return List{
		What:     lb.What,
		Children: append([]error(nil), lb.Children...),
	}
}

// AsList returns the List in err's chain, if any.
func AsList(err error) (List, bool) {
	var l List
	ok := errors.As(err, &l)
	return l, ok
}
