package domain

import "fmt"

type DeliveryClass string

const (
	DeliveryClassInstant DeliveryClass = "instant"
	DeliveryClassDelayed DeliveryClass = "delayed"
)

// DeliveryFailure records one endpoint attempt that did not succeed.
// Either StatusCode (HTTP 4xx/5xx) or Err (transport) is set.
type DeliveryFailure struct {
	Class      DeliveryClass
	URL        string
	StatusCode int
	Err        error
}

func (f DeliveryFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s delivery to %s: %v", f.Class, f.URL, f.Err)
	}
	return fmt.Sprintf("%s delivery to %s: status %d", f.Class, f.URL, f.StatusCode)
}
