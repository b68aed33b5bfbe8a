package walb

import "fmt"

var (
	ErrAlreadyFormatted = fmt.Errorf("walb: ldev already formatted")
	ErrNotFormatted     = fmt.Errorf("walb: ldev not formatted")
	ErrReadOnly         = fmt.Errorf("walb: device is read-only")
	ErrFrozen           = fmt.Errorf("walb: device is frozen")
	ErrClosed           = fmt.Errorf("walb: device closed")
	ErrInvalidOption    = fmt.Errorf("walb: invalid option")
)
