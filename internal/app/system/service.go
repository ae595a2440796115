package system

import "context"

// Service is a background component with a start/stop lifecycle, such as the
// cache cleaner or the snapshot saver. The Manager starts services in
// registration order and stops them in reverse.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
