package clipboard

import "csync/pkg/types"

// Monitor watches the system clipboard and reports change events.
type Monitor interface {
	Start() error
	Stop() error
	OnChange(handler func(types.Event))
}
