package projection

import (
	"context"
	"fmt"

	"github.com/cqrskit/core/pkg/journal"
)

// Service adapts one registered projection's live subscription to the
// runner.Service lifecycle (start on process startup, stop on
// shutdown), mirroring the teacher's pkg/runtime/eventbus.Service
// wrapping a NATS connection the same way.
type Service struct {
	runtime *Runtime
	name    string
	filter  journal.TagFilter
}

// NewService wraps name's projection (already Register'd on runtime) as
// a runner.Service.
func NewService(runtime *Runtime, name string, filter journal.TagFilter) *Service {
	return &Service{runtime: runtime, name: name, filter: filter}
}

func (s *Service) Name() string { return fmt.Sprintf("projection.%s", s.name) }

func (s *Service) Start(ctx context.Context) error {
	return s.runtime.Start(ctx, s.name, s.filter)
}

func (s *Service) Stop(_ context.Context) error {
	return s.runtime.Stop(s.name)
}
