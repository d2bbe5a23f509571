package link

import "fmt"

// OpError reports a failed link operation together with the operation name
// and the link it targeted. The underlying netlink error is surfaced
// verbatim through Unwrap.
type OpError struct {
	Op   string
	Link string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("link operation %q on %q failed: %v", e.Op, e.Link, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, linkName string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Link: linkName, Err: err}
}
