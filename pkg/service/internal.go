package service

import "sync/atomic"

// InternalService has nothing to run. It is up as soon as its dependencies
// are, and is typically used to group other services under one name.
type InternalService struct {
	value  interface{}
	starts atomic.Int64
	stops  atomic.Int64
}

// NewInternalService creates an internal service exposing value once up.
// value may be nil.
func NewInternalService(value interface{}) *InternalService {
	return &InternalService{value: value}
}

// Start completes immediately.
func (s *InternalService) Start(StartContext) error {
	s.starts.Add(1)
	return nil
}

// Stop completes immediately.
func (s *InternalService) Stop(StopContext) {
	s.stops.Add(1)
}

// Value returns the value given at construction.
func (s *InternalService) Value() (interface{}, error) {
	if s.value == nil {
		return nil, ErrNoValue
	}
	return s.value, nil
}

// Starts returns how many start attempts ran.
func (s *InternalService) Starts() int64 { return s.starts.Load() }

// Stops returns how many stop attempts ran.
func (s *InternalService) Stops() int64 { return s.stops.Load() }
